// Package remotetest provides in-memory implementations of the remote
// capability contracts for engine tests: a document store, blob store,
// mirror store, and token provider with call counters and injectable
// failures.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/remote"
)

// DocumentStore is an in-memory remote.DocumentStore.
type DocumentStore struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	teams    map[string]*model.Team

	// FailReplace, when set, is returned by every ReplaceTasks call.
	FailReplace error

	// ReplaceCalls counts ReplaceTasks invocations, including failed ones.
	ReplaceCalls int
}

// NewDocumentStore returns an empty in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		projects: make(map[string]*model.Project),
		teams:    make(map[string]*model.Team),
	}
}

// PutProject stores a project record.
func (s *DocumentStore) PutProject(p *model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

// DeleteProject removes a project record, simulating upstream deletion.
func (s *DocumentStore) DeleteProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
}

// PutTeam stores a team record.
func (s *DocumentStore) PutTeam(t *model.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = t
}

// Project implements remote.DocumentStore.
func (s *DocumentStore) Project(_ context.Context, projectID string) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	// Copy so callers can't mutate the stored record in place.
	cp := *p
	cp.Tasks = append([]*model.Task(nil), p.Tasks...)
	return &cp, nil
}

// Team implements remote.DocumentStore.
func (s *DocumentStore) Team(_ context.Context, teamID string) (*model.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, remote.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// TeamProjects implements remote.DocumentStore.
func (s *DocumentStore) TeamProjects(_ context.Context, teamID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, p := range s.projects {
		if p.TeamID == teamID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReplaceTasks implements remote.DocumentStore.
func (s *DocumentStore) ReplaceTasks(_ context.Context, projectID string, tasks []*model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReplaceCalls++
	if s.FailReplace != nil {
		return s.FailReplace
	}
	p, ok := s.projects[projectID]
	if !ok {
		return remote.ErrNotFound
	}
	p.Tasks = append([]*model.Task(nil), tasks...)
	return nil
}

// Tasks returns the current task list of a stored project.
func (s *DocumentStore) Tasks(projectID string) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		return append([]*model.Task(nil), p.Tasks...)
	}
	return nil
}

// BlobStore is an in-memory remote.BlobStore.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// FailUpload, when set, is returned by every Upload call.
	FailUpload error

	UploadCalls   int
	DownloadCalls int
}

// NewBlobStore returns an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

// Put seeds a blob under a remote reference.
func (b *BlobStore) Put(ref string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[ref] = data
}

// Upload implements remote.BlobStore. The returned reference is
// "https://blob.test/" + path.
func (b *BlobStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.UploadCalls++
	if b.FailUpload != nil {
		return "", b.FailUpload
	}
	ref := "https://blob.test/" + path
	b.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

// Download implements remote.BlobStore.
func (b *BlobStore) Download(_ context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DownloadCalls++
	data, ok := b.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", ref, remote.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// MirrorStore is an in-memory remote.MirrorStore modeling a folder tree.
type MirrorStore struct {
	mu      sync.Mutex
	nextID  int
	folders map[string]string // "parentID/name" -> folderID
	files   map[string][]byte // fileID -> content
	names   map[string]string // fileID -> "folderID/name"

	// FailUpload, when set, is returned by every UploadFile call.
	FailUpload error

	EnsureFolderCalls int
	UploadFileCalls   int
}

// NewMirrorStore returns an empty in-memory mirror store.
func NewMirrorStore() *MirrorStore {
	return &MirrorStore{
		folders: make(map[string]string),
		files:   make(map[string][]byte),
		names:   make(map[string]string),
	}
}

// EnsureFolder implements remote.MirrorStore.
func (m *MirrorStore) EnsureFolder(_ context.Context, _, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnsureFolderCalls++
	key := parentID + "/" + name
	if id, ok := m.folders[key]; ok {
		return id, nil
	}
	m.nextID++
	id := fmt.Sprintf("folder-%d", m.nextID)
	m.folders[key] = id
	return id, nil
}

// UploadFile implements remote.MirrorStore.
func (m *MirrorStore) UploadFile(_ context.Context, _, name string, data []byte, _, folderID, existingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadFileCalls++
	if m.FailUpload != nil {
		return "", m.FailUpload
	}
	id := existingID
	if id == "" {
		m.nextID++
		id = fmt.Sprintf("file-%d", m.nextID)
	}
	m.files[id] = append([]byte(nil), data...)
	m.names[id] = folderID + "/" + name
	return id, nil
}

// File returns the content stored under a file id.
func (m *MirrorStore) File(id string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[id]
	return data, ok
}

// FileCount returns the number of distinct files in the store.
func (m *MirrorStore) FileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// TokenProvider is a static remote.TokenProvider.
type TokenProvider struct {
	// BearerToken is returned for every team when Connected is true.
	BearerToken string

	// Connected controls whether Token succeeds. When false, Token
	// returns remote.ErrNotConnected.
	Connected bool
}

// Token implements remote.TokenProvider.
func (p *TokenProvider) Token(_ context.Context, _ string) (string, error) {
	if !p.Connected {
		return "", remote.ErrNotConnected
	}
	return p.BearerToken, nil
}
