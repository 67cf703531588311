// Package httpremote implements the remote capability contracts over a
// JSON HTTP API with bearer authentication.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/remote"
)

// Option configures a Client.
type Option func(*Client)

// Client talks to the FieldSync backend. It implements
// remote.DocumentStore, remote.BlobStore, and remote.MirrorStore.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	authToken  string
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL, authToken string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base url must include scheme and host")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    parsed,
		authToken:  authToken,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// Project implements remote.DocumentStore.
func (c *Client) Project(ctx context.Context, projectID string) (*model.Project, error) {
	var project model.Project
	if err := c.getJSON(ctx, "/v1/projects/"+url.PathEscape(projectID), &project); err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", projectID, err)
	}
	return &project, nil
}

// Team implements remote.DocumentStore.
func (c *Client) Team(ctx context.Context, teamID string) (*model.Team, error) {
	var team model.Team
	if err := c.getJSON(ctx, "/v1/teams/"+url.PathEscape(teamID), &team); err != nil {
		return nil, fmt.Errorf("failed to fetch team %s: %w", teamID, err)
	}
	return &team, nil
}

// TeamProjects implements remote.DocumentStore.
func (c *Client) TeamProjects(ctx context.Context, teamID string) ([]string, error) {
	var out struct {
		ProjectIDs []string `json:"project_ids"`
	}
	if err := c.getJSON(ctx, "/v1/teams/"+url.PathEscape(teamID)+"/projects", &out); err != nil {
		return nil, fmt.Errorf("failed to list projects for team %s: %w", teamID, err)
	}
	return out.ProjectIDs, nil
}

// ReplaceTasks implements remote.DocumentStore. The task list is replaced
// whole; the server treats the PUT as atomic.
func (c *Client) ReplaceTasks(ctx context.Context, projectID string, tasks []*model.Task) error {
	body, err := json.Marshal(struct {
		Tasks []*model.Task `json:"tasks"`
	}{Tasks: tasks})
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut,
		"/v1/projects/"+url.PathEscape(projectID)+"/tasks", bytes.NewReader(body), "application/json")
	if err != nil {
		return fmt.Errorf("failed to replace tasks for project %s: %w", projectID, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Upload implements remote.BlobStore. The server responds with the durable
// URL of the stored blob.
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/blobs/"+path, bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return out.URL, nil
}

// Download implements remote.BlobStore. The reference is a full URL.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// EnsureFolder implements remote.MirrorStore.
func (c *Client) EnsureFolder(ctx context.Context, token, name, parentID string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"name":      name,
		"parent_id": parentID,
	})

	resp, err := c.doWithToken(ctx, token, http.MethodPost, "/v1/mirror/folders",
		bytes.NewReader(body), "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to ensure folder %s: %w", name, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode folder response: %w", err)
	}
	return out.ID, nil
}

// UploadFile implements remote.MirrorStore. A non-empty existingID updates
// that file in place instead of creating a new one.
func (c *Client) UploadFile(ctx context.Context, token, name string, data []byte, contentType, folderID, existingID string) (string, error) {
	endpoint := "/v1/mirror/folders/" + url.PathEscape(folderID) + "/files"
	method := http.MethodPost
	if existingID != "" {
		endpoint = "/v1/mirror/files/" + url.PathEscape(existingID)
		method = http.MethodPut
	}

	resp, err := c.doWithToken(ctx, token, method, endpoint+"?name="+url.QueryEscape(name),
		bytes.NewReader(data), contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload file %s: %w", name, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode file response: %w", err)
	}
	return out.ID, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	return c.doWithToken(ctx, c.authToken, method, endpoint, body, contentType)
}

func (c *Client) doWithToken(ctx context.Context, token, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	ref, err := c.baseURL.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, ref.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

// checkStatus maps HTTP status codes onto the remote sentinel errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return remote.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: server returned %s", remote.ErrNotConnected, resp.Status)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
}
