package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTokenProvider stores per-team mirror credentials in a JSON file.
// Acquiring a credential (the OAuth dance) happens elsewhere; this only
// keeps the result.
type FileTokenProvider struct {
	path string

	mu     sync.Mutex
	tokens map[string]string
	loaded bool
}

// NewFileTokenProvider creates a provider backed by the given file. The
// file is created on the first SetToken.
func NewFileTokenProvider(path string) *FileTokenProvider {
	return &FileTokenProvider{path: path}
}

// Token implements TokenProvider. A team without a stored credential
// returns ErrNotConnected.
func (p *FileTokenProvider) Token(_ context.Context, teamID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(); err != nil {
		return "", err
	}
	token, ok := p.tokens[teamID]
	if !ok || token == "" {
		return "", fmt.Errorf("team %s: %w", teamID, ErrNotConnected)
	}
	return token, nil
}

// SetToken stores a team's credential and persists the file.
func (p *FileTokenProvider) SetToken(teamID, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(); err != nil {
		return err
	}
	p.tokens[teamID] = token
	return p.save()
}

// DeleteToken removes a team's credential. Disconnecting a team.
func (p *FileTokenProvider) DeleteToken(teamID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.load(); err != nil {
		return err
	}
	delete(p.tokens, teamID)
	return p.save()
}

func (p *FileTokenProvider) load() error {
	if p.loaded {
		return nil
	}
	p.tokens = make(map[string]string)

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		p.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}
	if err := json.Unmarshal(data, &p.tokens); err != nil {
		return fmt.Errorf("failed to parse token file: %w", err)
	}
	p.loaded = true
	return nil
}

func (p *FileTokenProvider) save() error {
	data, err := json.MarshalIndent(p.tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	// Credentials are secrets; keep the file owner-only.
	if err := os.WriteFile(p.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
