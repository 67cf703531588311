// Package reconcile merges locally queued task edits into the authoritative
// remote project record.
//
// A reconciliation attempt, per project:
//  1. Reads the current remote task list.
//  2. Uploads any local or inline media referenced by queued edits,
//     replacing the references with durable remote ones.
//  3. Merges each edited task into the list by id (replace or append).
//  4. Writes the whole task list back in a single replace.
//  5. Drains the queue down to the edits that must be retried.
//
// Failures are isolated per reference and per task: a missing local file or
// a failed upload flags that task for retry but never blocks its siblings.
// Only a failed read or a rejected list write fails the attempt as a whole.
package reconcile

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/remote"
	"github.com/teamtrace/fieldsync/internal/store"
)

// ErrSyncInProgress is returned when a reconciliation attempt is already
// running on this engine. Two concurrent whole-list read-modify-writes
// would race and silently drop one side's changes.
var ErrSyncInProgress = errors.New("reconciliation already in progress")

// Config holds configuration for the engine.
type Config struct {
	// RetryCeiling is the number of failed attempts after which a queued
	// edit is dropped and the loss logged.
	RetryCeiling int

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetryCeiling: 3,
		Logger:       log.New(os.Stderr, "[reconcile] ", log.LstdFlags),
	}
}

// Engine reconciles queued edits with the remote document store.
type Engine struct {
	store  *store.Store
	docs   remote.DocumentStore
	blobs  remote.BlobStore
	config *Config

	// inFlight is per engine instance, not process wide, so independent
	// teams and tests can run their own engines.
	inFlight atomic.Bool
}

// Result summarizes one reconciliation attempt.
type Result struct {
	// Merged is the number of edits confirmed written to the remote
	// record and removed from the queue.
	Merged int
	// Retained is the number of edits kept for retry.
	Retained int
	// Dropped is the number of edits permanently discarded, either
	// because the project was deleted or the retry ceiling was hit.
	Dropped int
}

func (r Result) add(o Result) Result {
	return Result{Merged: r.Merged + o.Merged, Retained: r.Retained + o.Retained, Dropped: r.Dropped + o.Dropped}
}

// New creates a reconciliation engine. If config is nil, defaults are used.
func New(st *store.Store, docs remote.DocumentStore, blobs remote.BlobStore, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	if config.RetryCeiling <= 0 {
		config.RetryCeiling = 3
	}
	return &Engine{store: st, docs: docs, blobs: blobs, config: config}
}

// SyncAll reconciles every project with a non-empty queue, in project-id
// order, continuing past individual project failures.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	projectIDs, err := e.store.QueuedProjects(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list queued projects: %w", err)
	}

	var total Result
	for _, projectID := range projectIDs {
		res, err := e.syncProject(ctx, projectID)
		total = total.add(res)
		if err != nil {
			e.config.Logger.Printf("Warning: sync of project %s failed: %v", projectID, err)
			continue
		}
	}
	return total, nil
}

// SyncProject reconciles the queue of a single project.
func (e *Engine) SyncProject(ctx context.Context, projectID string) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	return e.syncProject(ctx, projectID)
}

// syncProject runs one reconciliation attempt. Caller holds the in-flight
// flag.
func (e *Engine) syncProject(ctx context.Context, projectID string) (Result, error) {
	edits, err := e.store.Queue(ctx, projectID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(edits) == 0 {
		return Result{}, nil
	}

	project, err := e.docs.Project(ctx, projectID)
	if errors.Is(err, remote.ErrNotFound) {
		// Project deleted upstream. Terminal: discard the whole queue.
		e.config.Logger.Printf("Project %s no longer exists, dropping %d queued edits", projectID, len(edits))
		if err := e.store.Drain(ctx, projectID, nil); err != nil {
			return Result{}, fmt.Errorf("failed to drop queue for deleted project: %w", err)
		}
		return Result{Dropped: len(edits)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read project %s: %w", projectID, err)
	}

	tasks := append([]*model.Task(nil), project.Tasks...)
	type processed struct {
		edit   *model.QueuedEdit
		task   *model.Task
		failed bool
	}
	var attempts []processed

	for _, edit := range edits {
		work := edit.Task.Clone()
		failed := e.uploadTaskMedia(ctx, project, work)

		merged := work.Clone()
		merged.Local = false
		tasks = model.MergeTask(tasks, merged)

		attempts = append(attempts, processed{edit: edit, task: work, failed: failed})
	}

	if err := e.docs.ReplaceTasks(ctx, projectID, tasks); err != nil {
		// No merge progress is recorded. Every edit of this attempt is
		// retried with an incremented counter.
		survivors := make([]*model.QueuedEdit, len(attempts))
		for i, a := range attempts {
			survivors[i] = &model.QueuedEdit{Task: a.edit.Task, RetryCount: a.edit.RetryCount + 1}
		}
		if derr := e.store.Drain(ctx, projectID, survivors); derr != nil {
			e.config.Logger.Printf("Warning: failed to persist retry counters for %s: %v", projectID, derr)
		}
		return Result{Retained: len(survivors)},
			fmt.Errorf("failed to write task list for project %s: %w", projectID, err)
	}

	// The list write succeeded: clean tasks are done, failed ones retry
	// until the ceiling.
	var res Result
	var survivors []*model.QueuedEdit
	for _, a := range attempts {
		if !a.failed {
			res.Merged++
			continue
		}
		retry := a.edit.RetryCount + 1
		if retry >= e.config.RetryCeiling {
			res.Dropped++
			e.config.Logger.Printf("ERROR: dropping edit for task %s in project %s after %d failed attempts, local changes are lost",
				a.task.ID, projectID, retry)
			continue
		}
		res.Retained++
		// The survivor keeps the original edit payload. Its references
		// are re-resolved on the next attempt, so a reference that was
		// dropped from the merged copy still counts against the ceiling
		// until the edit is confirmed or dropped.
		survivors = append(survivors, &model.QueuedEdit{Task: a.edit.Task, RetryCount: retry})
	}

	if err := e.store.Drain(ctx, projectID, survivors); err != nil {
		return res, fmt.Errorf("failed to drain queue for project %s: %w", projectID, err)
	}

	// Refresh the offline snapshot with the state we just wrote.
	project.Tasks = tasks
	if err := e.store.CacheProject(ctx, project); err != nil {
		e.config.Logger.Printf("Warning: failed to cache project %s: %v", projectID, err)
	}

	e.config.Logger.Printf("Synced project %s: merged=%d retained=%d dropped=%d",
		projectID, res.Merged, res.Retained, res.Dropped)
	return res, nil
}

// Push merges a single task directly into the remote record without going
// through the queue. This is the auto-push path used for small edits made
// while online; it runs the same merge-by-id and whole-list write as the
// queued path.
func (e *Engine) Push(ctx context.Context, projectID string, task *model.Task) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	project, err := e.docs.Project(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to read project %s: %w", projectID, err)
	}

	work := task.Clone()
	if failed := e.uploadTaskMedia(ctx, project, work); failed {
		return fmt.Errorf("failed to upload media for task %s", task.ID)
	}
	work.Local = false

	tasks := model.MergeTask(project.Tasks, work)
	if err := e.docs.ReplaceTasks(ctx, projectID, tasks); err != nil {
		return fmt.Errorf("failed to write task list for project %s: %w", projectID, err)
	}

	project.Tasks = tasks
	if err := e.store.CacheProject(ctx, project); err != nil {
		e.config.Logger.Printf("Warning: failed to cache project %s: %v", projectID, err)
	}
	return nil
}

// uploadTaskMedia replaces local and inline media references on the task
// with durable remote ones. Returns true if any reference failed; failed
// references either stay local (transient upload error, retried next
// attempt) or are dropped (missing local file, permanent).
func (e *Engine) uploadTaskMedia(ctx context.Context, project *model.Project, task *model.Task) bool {
	failed := false

	switch task.Kind {
	case model.KindPhoto, model.KindVideo:
		refs := task.MediaRefs()
		locs := task.MediaLocations()
		var keptRefs []string
		var keptLocs []*model.GeoPoint
		for i, ref := range refs {
			var loc *model.GeoPoint
			if i < len(locs) {
				loc = locs[i]
			}
			newRef, keep, ok := e.uploadRef(ctx, project, task, i, ref)
			if !ok {
				failed = true
			}
			if keep {
				keptRefs = append(keptRefs, newRef)
				keptLocs = append(keptLocs, loc)
			}
		}
		task.SetMediaRefs(keptRefs, keptLocs)

	case model.KindMeasurement, model.KindText:
		// Legacy payloads may carry a file reference as the value.
		switch model.ClassifyRef(task.Value) {
		case model.RefLocalFile, model.RefInline:
			newRef, keep, ok := e.uploadRef(ctx, project, task, 0, task.Value)
			if !ok {
				failed = true
			}
			if keep {
				task.Value = newRef
			} else {
				task.Value = ""
			}
		}
	}

	return failed
}

// uploadRef resolves one media reference. It returns the reference to keep
// (possibly replaced), whether to keep it at all, and whether resolution
// succeeded.
func (e *Engine) uploadRef(ctx context.Context, project *model.Project, task *model.Task, index int, ref string) (newRef string, keep, ok bool) {
	switch model.ClassifyRef(ref) {
	case model.RefRemote, model.RefUnknown:
		return ref, true, true

	case model.RefLocalFile:
		path := model.LocalPath(ref)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Permanent: the file is gone and will not reappear.
				// Drop the reference, flag the task.
				e.config.Logger.Printf("Warning: local file %s for task %s is missing, dropping reference", path, task.ID)
				return "", false, false
			}
			e.config.Logger.Printf("Warning: failed to read %s for task %s: %v", path, task.ID, err)
			return ref, true, false
		}
		return e.doUpload(ctx, project, task, index, ref, data)

	case model.RefInline:
		data, err := decodeInline(ref)
		if err != nil {
			e.config.Logger.Printf("Warning: malformed inline data on task %s: %v", task.ID, err)
			return ref, true, false
		}
		return e.doUpload(ctx, project, task, index, ref, data)
	}
	return ref, true, true
}

func (e *Engine) doUpload(ctx context.Context, project *model.Project, task *model.Task, index int, ref string, data []byte) (string, bool, bool) {
	path := fmt.Sprintf("teams/%s/projects/%s/%s/%s_%d",
		project.TeamID, project.ID, task.ID, task.Kind, index)

	remoteRef, err := e.blobs.Upload(ctx, path, data, contentTypeFor(task.Kind))
	if err != nil {
		// Transient: keep the local reference so the next attempt can
		// retry the upload.
		e.config.Logger.Printf("Warning: upload for task %s failed: %v", task.ID, err)
		return ref, true, false
	}
	return remoteRef, true, true
}

func contentTypeFor(kind model.Kind) string {
	switch kind {
	case model.KindPhoto:
		return "image/jpeg"
	case model.KindVideo:
		return "video/mp4"
	}
	return "application/octet-stream"
}

// decodeInline extracts the payload bytes of a data: URI.
func decodeInline(ref string) ([]byte, error) {
	idx := strings.Index(ref, ",")
	if idx < 0 {
		return nil, fmt.Errorf("data URI has no payload separator")
	}
	header, payload := ref[:idx], ref[idx+1:]
	if strings.HasSuffix(header, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 payload: %w", err)
		}
		return data, nil
	}
	return []byte(payload), nil
}
