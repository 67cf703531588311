// Package remote defines the capability contracts fieldsync consumes from
// the surrounding systems: the authoritative document store, the blob
// store, the external mirror store, the credential provider, and the
// summary document generator.
//
// The engines never talk wire formats. They depend on these interfaces and
// the host application wires in the concrete SDK-backed implementations.
// Package remotetest provides in-memory implementations for tests.
package remote

import (
	"context"
	"errors"

	"github.com/teamtrace/fieldsync/internal/model"
)

// ErrNotFound is returned by DocumentStore when a record does not exist.
// For a project this is terminal: the project was deleted upstream and any
// locally queued edits for it are discarded.
var ErrNotFound = errors.New("record not found")

// ErrNotConnected is returned by TokenProvider when no valid credential can
// be produced for a team. A mirror pass fails fast on it and is reported as
// "not connected" rather than retried.
var ErrNotConnected = errors.New("mirror target not connected")

// DocumentStore is the authoritative record store for teams and projects.
//
// Task lists are replaced whole. The store has no array-element update
// semantics, so concurrent writers race at whole-list granularity and the
// last write wins. Callers re-read before merging to keep the window small.
type DocumentStore interface {
	// Project reads the current remote project record.
	// Returns ErrNotFound if the project was deleted.
	Project(ctx context.Context, projectID string) (*model.Project, error)

	// Team reads a team record. Returns ErrNotFound if it was deleted.
	Team(ctx context.Context, teamID string) (*model.Team, error)

	// TeamProjects lists the ids of all projects belonging to a team, in
	// the order the team's group structure references them.
	TeamProjects(ctx context.Context, teamID string) ([]string, error)

	// ReplaceTasks overwrites the project's whole task list.
	ReplaceTasks(ctx context.Context, projectID string, tasks []*model.Task) error
}

// BlobStore stores task media. Upload returns a durable remote reference
// that replaces the local or inline reference in the task payload.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// MirrorStore is the folder-tree capable external store the mirror engine
// materializes project content into.
type MirrorStore interface {
	// EnsureFolder finds or creates a folder by name under parentID and
	// returns its id. Idempotent by (name, parent).
	EnsureFolder(ctx context.Context, token, name, parentID string) (string, error)

	// UploadFile creates a file in folderID, or updates the existing file
	// when existingID is non-empty. Returns the file id.
	UploadFile(ctx context.Context, token, name string, data []byte, contentType, folderID, existingID string) (string, error)
}

// TokenProvider produces a valid bearer credential for a team's mirror
// target, refreshing as needed. Returns ErrNotConnected when no credential
// can be obtained.
type TokenProvider interface {
	Token(ctx context.Context, teamID string) (string, error)
}

// DocumentGenerator renders summary documents for mirroring. Each method
// returns the path of a temporary local file; the caller uploads the bytes
// and removes the file.
type DocumentGenerator interface {
	// MeasurementSummary renders one document listing all completed
	// measurement tasks of a project.
	MeasurementSummary(projectName string, tasks []*model.Task) (string, error)

	// NoteSummary renders one document listing all completed text tasks.
	NoteSummary(projectName string, tasks []*model.Task) (string, error)

	// MediaMetadata renders the per-item description/location/date
	// document for one task's media set.
	MediaMetadata(task *model.Task) (string, error)
}
