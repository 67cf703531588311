package mirror

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/teamtrace/fieldsync/internal/docgen"
	"github.com/teamtrace/fieldsync/internal/model"
	"github.com/teamtrace/fieldsync/internal/remote"
	"github.com/teamtrace/fieldsync/internal/remote/remotetest"
	"github.com/teamtrace/fieldsync/internal/store"
)

type fixture struct {
	engine *Engine
	config *Config
	store  *store.Store
	docs   *remotetest.DocumentStore
	blobs  *remotetest.BlobStore
	target *remotetest.MirrorStore
	tokens *remotetest.TokenProvider
}

// setupMirror creates an engine backed by a temp database and in-memory
// remote stores, with a connected token provider.
func setupMirror(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "fieldsync.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		store:  st,
		docs:   remotetest.NewDocumentStore(),
		blobs:  remotetest.NewBlobStore(),
		target: remotetest.NewMirrorStore(),
		tokens: &remotetest.TokenProvider{BearerToken: "tok", Connected: true},
	}
	f.config = &Config{
		RootFolder: "TeamTrace",
		Logger:     log.New(os.Stderr, "[test] ", 0),
	}
	f.engine = New(st, f.docs, f.blobs, f.target, f.tokens, docgen.New(), f.config)
	return f
}

func (f *fixture) putTeam(id, name, group string) {
	f.docs.PutTeam(&model.Team{ID: id, Name: name, GroupName: group})
}

// seedPhoto stores one blob per ref and returns a completed photo task
// referencing them.
func (f *fixture) seedPhoto(id, title string, refs ...string) *model.Task {
	for _, ref := range refs {
		f.blobs.Put(ref, []byte("jpeg:"+ref))
	}
	return &model.Task{ID: id, Title: title, Kind: model.KindPhoto, Images: refs}
}

func TestSyncTeam_MirrorsMediaAndGeneratedDocs(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "North")

	task := f.seedPhoto("task1", "Roof damage",
		"https://blob.test/a.jpg", "https://blob.test/b.jpg")
	note := &model.Task{ID: "task2", Title: "Site notes", Kind: model.KindText, Value: "all clear"}
	f.docs.PutProject(&model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{task, note},
	})

	var events []Progress
	f.config.OnProgress = func(p Progress) { events = append(events, p) }

	ok, err := f.engine.SyncTeam(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SyncTeam: %v", err)
	}
	if !ok {
		t.Fatal("expected sweep to report success")
	}

	// Two media files, one metadata document, one note summary.
	if got := f.target.FileCount(); got != 4 {
		t.Errorf("expected 4 files in mirror, got %d", got)
	}
	if f.blobs.DownloadCalls != 2 {
		t.Errorf("expected 2 downloads, got %d", f.blobs.DownloadCalls)
	}

	state := f.store.LoadState(context.Background(), "t1")
	ps := state.ProjectState("p1")
	if ps.LastSyncedTasksHash == "" {
		t.Error("expected checkpoint to be written")
	}
	if len(ps.SyncedMedia) != 2 {
		t.Errorf("expected 2 media records, got %d", len(ps.SyncedMedia))
	}
	if _, ok := ps.SyncedMedia[model.MediaKey("task1", model.KindPhoto, 0)]; !ok {
		t.Error("expected record under stable media key")
	}

	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Current < events[i-1].Current {
			t.Fatalf("progress went backwards: %d after %d",
				events[i].Current, events[i-1].Current)
		}
	}
}

func TestSyncProject_FirstMeasurementMirrorFromEmptyState(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	task := &model.Task{ID: "task1", Title: "Beam width", Kind: model.KindMeasurement, Value: "3.2"}
	f.docs.PutProject(&model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{task},
	})

	ctx := context.Background()
	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("SyncProject: %v", err)
	}

	state := f.store.LoadState(ctx, "t1")
	if _, ok := state.FolderIDs["TeamTrace/Alpha Crew/General/Inspection/measurements"]; !ok {
		t.Error("expected the measurements folder id to be cached")
	}

	ps := state.ProjectState("p1")
	if len(ps.SyncedDocs) != 1 {
		t.Fatalf("expected 1 synced document record, got %d", len(ps.SyncedDocs))
	}
	rec, ok := ps.SyncedDocs[model.DocKey("p1", "measurements.csv")]
	if !ok {
		t.Fatal("expected record under the summary document key")
	}
	if rec.ExternalID == "" || rec.ContentHash == "" {
		t.Errorf("incomplete document record: %+v", rec)
	}

	if ps.LastSyncedTasksHash != model.TaskListHash([]*model.Task{task}) {
		t.Error("expected checkpoint to equal the current task-list hash")
	}
	// The summary is the only mirrored file: no media, no note tasks.
	if got := f.target.FileCount(); got != 1 {
		t.Errorf("expected 1 mirrored file, got %d", got)
	}
}

func TestSyncTeam_UnchangedProjectDoesZeroWork(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	f.docs.PutProject(&model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{f.seedPhoto("task1", "Roof", "https://blob.test/a.jpg")},
	})

	if _, err := f.engine.SyncTeam(context.Background(), "t1"); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	downloads, uploads, folders := f.blobs.DownloadCalls, f.target.UploadFileCalls, f.target.EnsureFolderCalls

	if _, err := f.engine.SyncTeam(context.Background(), "t1"); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	if f.blobs.DownloadCalls != downloads {
		t.Errorf("second sweep downloaded %d blobs", f.blobs.DownloadCalls-downloads)
	}
	if f.target.UploadFileCalls != uploads {
		t.Errorf("second sweep uploaded %d files", f.target.UploadFileCalls-uploads)
	}
	if f.target.EnsureFolderCalls != folders {
		t.Errorf("second sweep resolved %d folders", f.target.EnsureFolderCalls-folders)
	}
}

func TestSyncTeam_NewTaskOnlyTransfersNewItems(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	project := &model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{
			f.seedPhoto("task1", "Roof", "https://blob.test/a.jpg"),
			f.seedPhoto("task2", "Gutter", "https://blob.test/b.jpg"),
		},
	}
	f.docs.PutProject(project)

	if _, err := f.engine.SyncTeam(context.Background(), "t1"); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	downloads, uploads := f.blobs.DownloadCalls, f.target.UploadFileCalls

	project.Tasks = append(project.Tasks, f.seedPhoto("task3", "Basement", "https://blob.test/c.jpg"))
	f.docs.PutProject(project)

	if _, err := f.engine.SyncTeam(context.Background(), "t1"); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	if got := f.blobs.DownloadCalls - downloads; got != 1 {
		t.Errorf("expected 1 download for the new item, got %d", got)
	}
	// New media file plus the new task's metadata document; the existing
	// tasks' metadata is regenerated but hash-identical, so not re-uploaded.
	if got := f.target.UploadFileCalls - uploads; got != 2 {
		t.Errorf("expected 2 uploads for the new task, got %d", got)
	}
}

func TestSyncProject_ReplacedMediaUpdatesInPlace(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	task := f.seedPhoto("task1", "Roof", "https://blob.test/v1.jpg")
	project := &model.Project{ID: "p1", TeamID: "t1", Name: "Inspection", Tasks: []*model.Task{task}}
	f.docs.PutProject(project)

	ctx := context.Background()
	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	files := f.target.FileCount()

	state := f.store.LoadState(ctx, "t1")
	key := model.MediaKey("task1", model.KindPhoto, 0)
	firstID := state.ProjectState("p1").SyncedMedia[key].ExternalID

	// The item is retaken: same key, new source reference.
	f.blobs.Put("https://blob.test/v2.jpg", []byte("jpeg:v2"))
	task.Images = []string{"https://blob.test/v2.jpg"}
	f.docs.PutProject(project)

	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if got := f.target.FileCount(); got != files {
		t.Errorf("expected no new files, got %d (was %d)", got, files)
	}
	state = f.store.LoadState(ctx, "t1")
	rec := state.ProjectState("p1").SyncedMedia[key]
	if rec.ExternalID != firstID {
		t.Errorf("expected update of %s, got new file %s", firstID, rec.ExternalID)
	}
	if data, _ := f.target.File(firstID); string(data) != "jpeg:v2" {
		t.Errorf("expected replaced content, got %q", data)
	}
}

func TestSyncProject_SkipsUnreconciledLocalRefs(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	task := &model.Task{
		ID: "task1", Title: "Roof", Kind: model.KindPhoto,
		Images: []string{"file:///staging/roof.jpg"},
	}
	f.docs.PutProject(&model.Project{ID: "p1", TeamID: "t1", Name: "Inspection", Tasks: []*model.Task{task}})

	ctx := context.Background()
	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("SyncProject: %v", err)
	}

	if f.blobs.DownloadCalls != 0 {
		t.Errorf("expected no downloads for a local reference, got %d", f.blobs.DownloadCalls)
	}
	state := f.store.LoadState(ctx, "t1")
	if n := len(state.ProjectState("p1").SyncedMedia); n != 0 {
		t.Errorf("expected no media records, got %d", n)
	}
}

func TestSyncTeam_MissingCredentialFailsFast(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	f.tokens.Connected = false

	ok, err := f.engine.SyncTeam(context.Background(), "t1")
	if ok {
		t.Error("expected sweep to report failure")
	}
	if !errors.Is(err, remote.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if f.target.EnsureFolderCalls != 0 {
		t.Errorf("expected no mirror calls without a credential, got %d", f.target.EnsureFolderCalls)
	}
}

func TestSyncTeam_ContinuesPastFailingProject(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	// p-bad references a blob that was never uploaded, so its transfer
	// fails; p-good is fully mirrorable.
	f.docs.PutProject(&model.Project{
		ID: "p-bad", TeamID: "t1", Name: "Broken",
		Tasks: []*model.Task{{
			ID: "task1", Title: "Roof", Kind: model.KindPhoto,
			Images: []string{"https://blob.test/missing.jpg"},
		}},
	})
	f.docs.PutProject(&model.Project{
		ID: "p-good", TeamID: "t1", Name: "Working",
		Tasks: []*model.Task{f.seedPhoto("task2", "Gutter", "https://blob.test/ok.jpg")},
	})

	ok, err := f.engine.SyncTeam(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SyncTeam: %v", err)
	}
	if !ok {
		t.Fatal("expected sweep success with one good project")
	}

	state := f.store.LoadState(context.Background(), "t1")
	if state.ProjectState("p-good").LastSyncedTasksHash == "" {
		t.Error("expected checkpoint for the healthy project")
	}
	if state.ProjectState("p-bad").LastSyncedTasksHash != "" {
		t.Error("failing project must not advance its checkpoint")
	}
}

func TestSyncProject_AbortKeepsRecordsButNotCheckpoint(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")
	f.docs.PutProject(&model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{f.seedPhoto("task1", "Roof",
			"https://blob.test/a.jpg", "https://blob.test/b.jpg")},
	})

	// Abort after the first completed unit of work.
	f.config.OnProgress = func(Progress) { f.engine.Abort() }

	ctx := context.Background()
	err := f.engine.SyncProject(ctx, "t1", "p1")
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}

	state := f.store.LoadState(ctx, "t1")
	ps := state.ProjectState("p1")
	if ps.LastSyncedTasksHash != "" {
		t.Error("aborted pass must not advance the checkpoint")
	}
	if len(ps.SyncedMedia) != 1 {
		t.Fatalf("expected the completed item's record to survive, got %d", len(ps.SyncedMedia))
	}

	// The next pass finishes the remainder without redoing the first item.
	f.config.OnProgress = nil
	downloads := f.blobs.DownloadCalls
	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("resumed pass: %v", err)
	}
	if got := f.blobs.DownloadCalls - downloads; got != 1 {
		t.Errorf("expected 1 download on resume, got %d", got)
	}
	state = f.store.LoadState(ctx, "t1")
	if state.ProjectState("p1").LastSyncedTasksHash == "" {
		t.Error("expected checkpoint after the completed pass")
	}
}

func TestSyncProject_FolderCacheSurvivesRestart(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "North")
	project := &model.Project{
		ID: "p1", TeamID: "t1", Name: "Inspection",
		Tasks: []*model.Task{f.seedPhoto("task1", "Roof", "https://blob.test/a.jpg")},
	}
	f.docs.PutProject(project)

	ctx := context.Background()
	if err := f.engine.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	folders := f.target.EnsureFolderCalls

	// A fresh engine over the same store sees the cached folder ids.
	again := New(f.store, f.docs, f.blobs, f.target, f.tokens, docgen.New(), f.config)
	project.Tasks = append(project.Tasks, f.seedPhoto("task2", "Gutter", "https://blob.test/b.jpg"))
	f.docs.PutProject(project)

	if err := again.SyncProject(ctx, "t1", "p1"); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	// Only the new task's subfolder needed resolving.
	if got := f.target.EnsureFolderCalls - folders; got != 1 {
		t.Errorf("expected 1 folder resolution after restart, got %d", got)
	}
}

func TestSyncTeam_MissingProjectDoesNotFailSweep(t *testing.T) {
	f := setupMirror(t)
	f.putTeam("t1", "Alpha Crew", "")

	ok, err := f.engine.SyncTeam(context.Background(), "t1")
	if err != nil {
		t.Fatalf("SyncTeam: %v", err)
	}
	if !ok {
		t.Error("expected an empty team sweep to succeed")
	}
}
