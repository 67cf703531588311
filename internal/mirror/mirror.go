// Package mirror maintains a human-browsable folder tree in an external
// drive-style store, mirroring each project's media and generated summary
// documents.
//
// A mirror pass over a project is a single linear sequence of steps:
// credential, load, change detection, folder hierarchy, per-task media,
// aggregate documents, checkpoint. The pass is abortable between any two
// units of work. Per-item sync records are persisted even when a pass is
// aborted or fails partway, so the next pass re-does only the items not
// yet recorded; the project checkpoint is only advanced by a pass that
// completed every step.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/remote"
	"github.com/teamtrace/fieldsync/internal/store"
)

// ErrAborted is returned by a pass that observed the cooperative abort
// flag or context cancellation between two units of work.
var ErrAborted = errors.New("mirror pass aborted")

// Progress is one structured progress event of a project pass. Current is
// non-decreasing within one pass.
type Progress struct {
	Current int
	Total   int
	Message string
}

// Config holds configuration for the engine.
type Config struct {
	// RootFolder is the name of the app folder at the root of the
	// external store.
	RootFolder string

	// Logger for engine activity.
	Logger *log.Logger

	// OnProgress, when set, receives progress events during a project
	// pass. Called from the pass itself, so it must be fast.
	OnProgress func(Progress)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootFolder: "TeamTrace",
		Logger:     log.New(os.Stderr, "[mirror] ", log.LstdFlags),
	}
}

// Engine mirrors project content into the external store.
type Engine struct {
	store  *store.Store
	docs   remote.DocumentStore
	blobs  remote.BlobStore
	target remote.MirrorStore
	tokens remote.TokenProvider
	gen    remote.DocumentGenerator
	config *Config

	abort atomic.Bool
}

// New creates a mirror engine. If config is nil, defaults are used.
func New(st *store.Store, docs remote.DocumentStore, blobs remote.BlobStore, target remote.MirrorStore, tokens remote.TokenProvider, gen remote.DocumentGenerator, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[mirror] ", log.LstdFlags)
	}
	if config.RootFolder == "" {
		config.RootFolder = "TeamTrace"
	}
	return &Engine{
		store:  st,
		docs:   docs,
		blobs:  blobs,
		target: target,
		tokens: tokens,
		gen:    gen,
		config: config,
	}
}

// Abort requests a cooperative stop of the in-flight sweep. The pass stops
// before its next unit of work, never mid-transfer.
func (e *Engine) Abort() {
	e.abort.Store(true)
}

// SyncTeam mirrors every project of a team, sequentially, continuing past
// single-project failures. It returns true if at least one project
// succeeded (or the team has no projects), and fails fast with
// remote.ErrNotConnected when no credential is available.
func (e *Engine) SyncTeam(ctx context.Context, teamID string) (bool, error) {
	e.abort.Store(false)

	token, err := e.tokens.Token(ctx, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to acquire mirror credential for team %s: %w", teamID, err)
	}

	team, err := e.docs.Team(ctx, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to read team %s: %w", teamID, err)
	}

	projectIDs, err := e.docs.TeamProjects(ctx, teamID)
	if err != nil {
		return false, fmt.Errorf("failed to list projects for team %s: %w", teamID, err)
	}

	state := e.store.LoadState(ctx, teamID)

	succeeded := 0
	for _, projectID := range projectIDs {
		if err := e.checkAbort(ctx); err != nil {
			e.config.Logger.Printf("Sweep for team %s aborted", teamID)
			return succeeded > 0, err
		}
		if err := e.syncProject(ctx, token, team, state, projectID); err != nil {
			if errors.Is(err, ErrAborted) {
				return succeeded > 0, err
			}
			e.config.Logger.Printf("Warning: mirror of project %s failed: %v", projectID, err)
			continue
		}
		succeeded++
	}

	return succeeded > 0 || len(projectIDs) == 0, nil
}

// SyncProject mirrors a single project. Used for explicit per-project
// triggers; the team sweep calls the same pass.
func (e *Engine) SyncProject(ctx context.Context, teamID, projectID string) error {
	e.abort.Store(false)

	token, err := e.tokens.Token(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to acquire mirror credential for team %s: %w", teamID, err)
	}
	team, err := e.docs.Team(ctx, teamID)
	if err != nil {
		return fmt.Errorf("failed to read team %s: %w", teamID, err)
	}

	state := e.store.LoadState(ctx, teamID)
	return e.syncProject(ctx, token, team, state, projectID)
}

// syncProject runs the linear per-project pass. The sync state is
// persisted on every exit path so per-item records survive aborts and
// failures; the checkpoint is written only after a full pass.
func (e *Engine) syncProject(ctx context.Context, token string, team *model.Team, state *model.SyncState, projectID string) (err error) {
	project, lerr := e.docs.Project(ctx, projectID)
	if lerr != nil {
		return fmt.Errorf("failed to read project %s: %w", projectID, lerr)
	}

	hash := model.TaskListHash(project.Tasks)
	ps := state.ProjectState(projectID)
	if hash == ps.LastSyncedTasksHash {
		// Nothing changed since the last completed pass: one remote
		// read, one comparison, zero transfers.
		e.config.Logger.Printf("Project %s unchanged, skipping mirror", project.Name)
		return nil
	}

	// Every path below may have updated per-item records or the folder
	// cache; keep them even when the pass does not complete.
	defer func() {
		if serr := e.store.SaveState(ctx, team.ID, state); serr != nil {
			e.config.Logger.Printf("Warning: failed to persist sync state for team %s: %v", team.ID, serr)
			if err == nil {
				err = serr
			}
		}
	}()

	folders, err := e.ensureHierarchy(ctx, token, state, team, project)
	if err != nil {
		return err
	}

	prog := newTracker(e.config.OnProgress, progressTotal(project.Tasks))

	itemFailures := 0
	for _, task := range project.Tasks {
		if task.Kind != model.KindPhoto && task.Kind != model.KindVideo {
			continue
		}
		if len(task.MediaRefs()) == 0 {
			continue
		}
		if err := e.checkAbort(ctx); err != nil {
			return err
		}
		failures, err := e.syncTaskMedia(ctx, token, state, ps, folders, project, task, prog)
		if err != nil {
			return err
		}
		itemFailures += failures
	}

	if err := e.syncAggregates(ctx, token, ps, folders, project, prog); err != nil {
		return err
	}

	if itemFailures > 0 {
		// Completed items are recorded; the next pass retries only the
		// rest. The checkpoint must not advance.
		return fmt.Errorf("%d media items failed to mirror for project %s", itemFailures, projectID)
	}

	ps.LastSyncedTasksHash = hash
	e.config.Logger.Printf("Mirrored project %s", project.Name)
	return nil
}

// checkAbort returns ErrAborted when the cooperative flag is set or the
// context is cancelled. Called between steps and between media items.
func (e *Engine) checkAbort(ctx context.Context) error {
	if e.abort.Load() {
		return ErrAborted
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
	}
	return nil
}

// folderSet holds the resolved ids of the fixed-depth hierarchy for one
// project.
type folderSet struct {
	project      string
	photos       string
	videos       string
	measurements string
	notes        string
}

// ensureHierarchy lazily creates or fetches the fixed folder path
// root → team → group → project → type subfolders, resolving each level at
// most once per team thanks to the folder-id cache in the sync state.
func (e *Engine) ensureHierarchy(ctx context.Context, token string, state *model.SyncState, team *model.Team, project *model.Project) (*folderSet, error) {
	root, err := e.ensureFolder(ctx, token, state, e.config.RootFolder, "", e.config.RootFolder)
	if err != nil {
		return nil, err
	}
	teamPath := e.config.RootFolder + "/" + team.Name
	teamID, err := e.ensureFolder(ctx, token, state, team.Name, root, teamPath)
	if err != nil {
		return nil, err
	}

	group := team.GroupName
	if group == "" {
		group = "General"
	}
	groupPath := teamPath + "/" + group
	groupID, err := e.ensureFolder(ctx, token, state, group, teamID, groupPath)
	if err != nil {
		return nil, err
	}

	projectPath := groupPath + "/" + project.Name
	projectID, err := e.ensureFolder(ctx, token, state, project.Name, groupID, projectPath)
	if err != nil {
		return nil, err
	}

	fs := &folderSet{project: projectID}
	for _, sub := range []struct {
		name string
		dst  *string
	}{
		{"photos", &fs.photos},
		{"videos", &fs.videos},
		{"measurements", &fs.measurements},
		{"notes", &fs.notes},
	} {
		id, err := e.ensureFolder(ctx, token, state, sub.name, projectID, projectPath+"/"+sub.name)
		if err != nil {
			return nil, err
		}
		*sub.dst = id
	}
	return fs, nil
}

// ensureFolder resolves one folder id, consulting the cache first.
func (e *Engine) ensureFolder(ctx context.Context, token string, state *model.SyncState, name, parentID, pathKey string) (string, error) {
	if id, ok := state.FolderIDs[pathKey]; ok {
		return id, nil
	}
	id, err := e.target.EnsureFolder(ctx, token, name, parentID)
	if err != nil {
		return "", fmt.Errorf("failed to ensure folder %s: %w", pathKey, err)
	}
	state.FolderIDs[pathKey] = id
	return id, nil
}

// syncTaskMedia mirrors one photo/video task: a task-named subfolder, one
// file per media item keyed by taskID/kind_index, and the metadata
// document for the task's media set. Returns the number of items that
// failed, which blocks the checkpoint but not sibling items.
func (e *Engine) syncTaskMedia(ctx context.Context, token string, state *model.SyncState, ps *model.ProjectSyncState, folders *folderSet, project *model.Project, task *model.Task, prog *tracker) (int, error) {
	parent := folders.photos
	if task.Kind == model.KindVideo {
		parent = folders.videos
	}

	taskPath := fmt.Sprintf("task/%s/%s", project.ID, task.ID)
	taskFolder, err := e.ensureFolder(ctx, token, state, task.Title, parent, taskPath)
	if err != nil {
		return 0, err
	}

	failures := 0
	for i, ref := range task.MediaRefs() {
		if err := e.checkAbort(ctx); err != nil {
			return failures, err
		}

		key := model.MediaKey(task.ID, task.Kind, i)
		rec := ps.SyncedMedia[key]
		if rec != nil && rec.SourceRef == ref {
			prog.step(fmt.Sprintf("%s: item %d up to date", task.Title, i))
			continue
		}
		if model.ClassifyRef(ref) != model.RefRemote {
			// Not yet reconciled into the blob store; picked up on a
			// later pass once the reference is durable.
			prog.step(fmt.Sprintf("%s: item %d not yet uploaded", task.Title, i))
			continue
		}

		if err := e.transferMedia(ctx, token, ps, taskFolder, task, i, key, ref, rec); err != nil {
			e.config.Logger.Printf("Warning: failed to mirror %s: %v", key, err)
			failures++
		}
		prog.step(fmt.Sprintf("%s: item %d", task.Title, i))
	}

	if err := e.syncTaskMetadata(ctx, token, ps, taskFolder, task, prog); err != nil {
		return failures, err
	}
	return failures, nil
}

// transferMedia moves one media item source → temp file → external store,
// updating the existing external file when one is tracked for the key.
func (e *Engine) transferMedia(ctx context.Context, token string, ps *model.ProjectSyncState, folderID string, task *model.Task, index int, key, ref string, rec *model.MediaRecord) error {
	data, err := e.blobs.Download(ctx, ref)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	// One blob on disk at a time bounds memory and mirrors the transfer
	// through a temp file.
	tmp, err := os.CreateTemp("", "fieldsync-media-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	payload, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to re-read temp file: %w", err)
	}

	existingID := ""
	if rec != nil {
		existingID = rec.ExternalID
	}
	name := fmt.Sprintf("%s_%d%s", task.Kind, index, extFor(task.Kind))
	fileID, err := e.target.UploadFile(ctx, token, name, payload, mimeFor(task.Kind), folderID, existingID)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	ps.SyncedMedia[key] = &model.MediaRecord{
		ExternalID: fileID,
		SourceRef:  ref,
		SyncedAt:   time.Now().UTC(),
	}
	return nil
}

// syncTaskMetadata regenerates and uploads the per-task metadata document,
// gated by its content hash so identical content is never re-uploaded.
func (e *Engine) syncTaskMetadata(ctx context.Context, token string, ps *model.ProjectSyncState, folderID string, task *model.Task, prog *tracker) error {
	path, err := e.gen.MediaMetadata(task)
	if err != nil {
		return fmt.Errorf("failed to generate metadata for task %s: %w", task.ID, err)
	}
	defer os.Remove(path)

	key := model.DocKey(task.ID, "metadata.yaml")
	if err := e.uploadDoc(ctx, token, ps, folderID, key, task.Title+" metadata.yaml", path, "application/yaml"); err != nil {
		return err
	}
	prog.step(task.Title + ": metadata")
	return nil
}

// syncAggregates uploads the project-wide measurement and note summaries
// when the project has completed tasks of those kinds.
func (e *Engine) syncAggregates(ctx context.Context, token string, ps *model.ProjectSyncState, folders *folderSet, project *model.Project, prog *tracker) error {
	if hasCompleted(project.Tasks, model.KindMeasurement) {
		if err := e.checkAbort(ctx); err != nil {
			return err
		}
		path, err := e.gen.MeasurementSummary(project.Name, project.Tasks)
		if err != nil {
			return fmt.Errorf("failed to generate measurement summary: %w", err)
		}
		err = e.uploadDoc(ctx, token, ps, folders.measurements,
			model.DocKey(project.ID, "measurements.csv"), "measurements.csv", path, "text/csv")
		os.Remove(path)
		if err != nil {
			return err
		}
		prog.step("measurement summary")
	}

	if hasCompleted(project.Tasks, model.KindText) {
		if err := e.checkAbort(ctx); err != nil {
			return err
		}
		path, err := e.gen.NoteSummary(project.Name, project.Tasks)
		if err != nil {
			return fmt.Errorf("failed to generate note summary: %w", err)
		}
		err = e.uploadDoc(ctx, token, ps, folders.notes,
			model.DocKey(project.ID, "notes.csv"), "notes.csv", path, "text/csv")
		os.Remove(path)
		if err != nil {
			return err
		}
		prog.step("note summary")
	}
	return nil
}

// uploadDoc uploads one generated document unless its content hash matches
// the last recorded upload for the key.
func (e *Engine) uploadDoc(ctx context.Context, token string, ps *model.ProjectSyncState, folderID, key, name, path, contentType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read generated document %s: %w", name, err)
	}

	hash := model.ContentHash(data)
	rec := ps.SyncedDocs[key]
	if rec != nil && rec.ContentHash == hash {
		return nil
	}

	existingID := ""
	if rec != nil {
		existingID = rec.ExternalID
	}
	fileID, err := e.target.UploadFile(ctx, token, name, data, contentType, folderID, existingID)
	if err != nil {
		return fmt.Errorf("failed to upload document %s: %w", name, err)
	}

	ps.SyncedDocs[key] = &model.DocRecord{
		ExternalID:  fileID,
		ContentHash: hash,
		SyncedAt:    time.Now().UTC(),
	}
	return nil
}

func hasCompleted(tasks []*model.Task, kind model.Kind) bool {
	for _, t := range tasks {
		if t.Kind == kind && t.Completed() {
			return true
		}
	}
	return false
}

func extFor(kind model.Kind) string {
	if kind == model.KindVideo {
		return ".mp4"
	}
	return ".jpg"
}

func mimeFor(kind model.Kind) string {
	if kind == model.KindVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// progressTotal counts the units of work a full pass over tasks performs:
// one per media item, one metadata document per media task, and up to two
// aggregate documents.
func progressTotal(tasks []*model.Task) int {
	total := 0
	for _, t := range tasks {
		if n := len(t.MediaRefs()); n > 0 {
			total += n + 1
		}
	}
	if hasCompleted(tasks, model.KindMeasurement) {
		total++
	}
	if hasCompleted(tasks, model.KindText) {
		total++
	}
	return total
}

// tracker delivers monotonic progress events.
type tracker struct {
	fn      func(Progress)
	current int
	total   int
}

func newTracker(fn func(Progress), total int) *tracker {
	return &tracker{fn: fn, total: total}
}

func (t *tracker) step(message string) {
	t.current++
	if t.fn != nil {
		t.fn(Progress{Current: t.current, Total: t.total, Message: message})
	}
}
