package model

import (
	"fmt"
	"time"
)

// SyncState is the persisted mirror bookkeeping for one team. It is created
// lazily on the first mirror attempt, read and rewritten on every pass, and
// shared by all of the team's projects.
type SyncState struct {
	// LastSyncTimestamp is when the state was last persisted (unix millis).
	LastSyncTimestamp int64 `json:"last_sync_timestamp"`

	// Projects holds per-project checkpoints and per-item sync markers.
	Projects map[string]*ProjectSyncState `json:"projects"`

	// FolderIDs caches resolved external folder ids keyed by logical path
	// (e.g. "team/group/project/photos") so repeated passes never
	// re-resolve a folder.
	FolderIDs map[string]string `json:"folder_ids"`
}

// NewSyncState returns the empty initial state. Absence of a persisted
// record is a valid starting point, never an error.
func NewSyncState() *SyncState {
	return &SyncState{
		Projects:  make(map[string]*ProjectSyncState),
		FolderIDs: make(map[string]string),
	}
}

// ProjectState returns the per-project state, creating it on first use.
func (s *SyncState) ProjectState(projectID string) *ProjectSyncState {
	if s.Projects == nil {
		s.Projects = make(map[string]*ProjectSyncState)
	}
	ps, ok := s.Projects[projectID]
	if !ok {
		ps = &ProjectSyncState{}
		s.Projects[projectID] = ps
	}
	if ps.SyncedMedia == nil {
		ps.SyncedMedia = make(map[string]*MediaRecord)
	}
	if ps.SyncedDocs == nil {
		ps.SyncedDocs = make(map[string]*DocRecord)
	}
	return ps
}

// ProjectSyncState tracks what has already been mirrored for one project.
type ProjectSyncState struct {
	// LastSyncedTasksHash is the task-list fingerprint at the end of the
	// last fully completed mirror pass. An aborted pass never advances it.
	LastSyncedTasksHash string `json:"last_synced_tasks_hash"`

	// SyncedMedia maps a stable media key (taskID/kind_index) to the
	// external file already holding that item.
	SyncedMedia map[string]*MediaRecord `json:"synced_media"`

	// SyncedDocs maps a document key to the external file holding the last
	// uploaded generated document and the hash of its content.
	SyncedDocs map[string]*DocRecord `json:"synced_docs"`
}

// MediaRecord marks one media item as mirrored.
type MediaRecord struct {
	ExternalID string    `json:"external_id"`
	SourceRef  string    `json:"source_ref"`
	SyncedAt   time.Time `json:"synced_at"`
}

// DocRecord marks one generated document as mirrored.
type DocRecord struct {
	ExternalID  string    `json:"external_id"`
	ContentHash string    `json:"content_hash"`
	SyncedAt    time.Time `json:"synced_at"`
}

// MediaKey builds the stable per-item key used for mirror deduplication.
// The key survives source-reference changes, so re-uploading the same item
// under a new URL updates the existing external file instead of creating a
// duplicate.
func MediaKey(taskID string, kind Kind, index int) string {
	return fmt.Sprintf("%s/%s_%d", taskID, kind, index)
}

// DocKey builds the key for a generated document within a project.
func DocKey(scope, name string) string {
	return fmt.Sprintf("%s/%s", scope, name)
}
