package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teamtrace/fieldsync/internal/model"
)

// LoadState returns the persisted sync state for a team, or a fresh empty
// state when none exists or the stored record cannot be read. Absence is a
// valid initial state, so LoadState never returns an error to the caller.
func (s *Store) LoadState(ctx context.Context, teamID string) *model.SyncState {
	var stateJSON string
	err := s.conn.QueryRowContext(ctx,
		`SELECT state_json FROM sync_state WHERE team_id = ?`, teamID).Scan(&stateJSON)
	if err != nil {
		return model.NewSyncState()
	}

	var state model.SyncState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return model.NewSyncState()
	}
	if state.Projects == nil {
		state.Projects = make(map[string]*model.ProjectSyncState)
	}
	if state.FolderIDs == nil {
		state.FolderIDs = make(map[string]string)
	}
	return &state
}

// SaveState unconditionally overwrites the team's sync state. Last writer
// wins; single-writer-at-a-time is the mirror engine's own sequential
// sweep, not a guarantee of this store.
func (s *Store) SaveState(ctx context.Context, teamID string, state *model.SyncState) error {
	state.LastSyncTimestamp = time.Now().UnixMilli()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state for team %s: %w", teamID, err)
	}

	query := `
	INSERT INTO sync_state (team_id, state_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(team_id) DO UPDATE SET
		state_json = excluded.state_json,
		updated_at = excluded.updated_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		teamID, string(stateJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save sync state for team %s: %w", teamID, err)
	}
	return nil
}

// DeleteState removes a team's sync state. Called when the external mirror
// target is disconnected.
func (s *Store) DeleteState(ctx context.Context, teamID string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM sync_state WHERE team_id = ?`, teamID)
	if err != nil {
		return fmt.Errorf("failed to delete sync state for team %s: %w", teamID, err)
	}
	return nil
}

// CacheProject stores the last-seen remote snapshot of a project for
// offline reads.
func (s *Store) CacheProject(ctx context.Context, p *model.Project) error {
	projectJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.ID, err)
	}

	query := `
	INSERT INTO project_cache (project_id, project_json, cached_at)
	VALUES (?, ?, ?)
	ON CONFLICT(project_id) DO UPDATE SET
		project_json = excluded.project_json,
		cached_at = excluded.cached_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		p.ID, string(projectJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to cache project %s: %w", p.ID, err)
	}
	return nil
}

// CachedProject returns the last cached snapshot of a project, or nil when
// no snapshot exists.
func (s *Store) CachedProject(ctx context.Context, projectID string) (*model.Project, error) {
	var projectJSON string
	err := s.conn.QueryRowContext(ctx,
		`SELECT project_json FROM project_cache WHERE project_id = ?`, projectID).Scan(&projectJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached project %s: %w", projectID, err)
	}

	var p model.Project
	if err := json.Unmarshal([]byte(projectJSON), &p); err != nil {
		return nil, fmt.Errorf("failed to parse cached project %s: %w", projectID, err)
	}
	return &p, nil
}
