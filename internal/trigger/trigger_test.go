package trigger

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teamtrace/fieldsync/internal/reconcile"
)

type fakeReconciler struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeReconciler) SyncAll(context.Context) (reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return reconcile.Result{}, nil
}

func (f *fakeReconciler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMirror struct {
	mu     sync.Mutex
	teams  []string
	aborts int

	// failFirst makes the first SyncTeam call fail.
	failFirst bool
}

func (f *fakeMirror) SyncTeam(_ context.Context, teamID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teams = append(f.teams, teamID)
	if f.failFirst && len(f.teams) == 1 {
		return false, fmt.Errorf("temporary failure")
	}
	return true, nil
}

func (f *fakeMirror) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeMirror) sweeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.teams)
}

func (f *fakeMirror) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

// setupDaemon starts a daemon with fast intervals over a temp staging dir.
func setupDaemon(t *testing.T) (*Daemon, *fakeReconciler, *fakeMirror, string) {
	t.Helper()

	rec := &fakeReconciler{}
	mir := &fakeMirror{}
	staging := filepath.Join(t.TempDir(), "staging")

	d, err := New(rec, mir, staging, &Config{
		DebounceInterval: 50 * time.Millisecond,
		TickInterval:     10 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait until the watcher is attached.
	waitFor(t, time.Second, func() bool {
		return d.watcher.WatchList() != nil && len(d.watcher.WatchList()) > 0
	}, "daemon never started watching")

	return d, rec, mir, staging
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDaemon_DebouncesStagingBurst(t *testing.T) {
	_, rec, _, staging := setupDaemon(t)

	// A burst of captures should cause exactly one reconciliation run.
	for i := 0; i < 5; i++ {
		path := filepath.Join(staging, fmt.Sprintf("capture-%d.jpg", i))
		if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
			t.Fatalf("failed to write staging file: %v", err)
		}
	}

	waitFor(t, 3*time.Second, func() bool { return rec.count() >= 1 },
		"reconciliation never ran")

	// Allow further ticks to pass; no second run without a new stimulus.
	time.Sleep(200 * time.Millisecond)
	if got := rec.count(); got != 1 {
		t.Errorf("expected 1 reconciliation run, got %d", got)
	}
}

func TestDaemon_RemoteChangeCoalescesIntoOneSweep(t *testing.T) {
	d, _, mir, _ := setupDaemon(t)

	d.NotifyRemoteChange("t1")
	d.NotifyRemoteChange("t1")
	d.NotifyRemoteChange("t1")

	waitFor(t, 3*time.Second, func() bool { return mir.sweeps() >= 1 },
		"mirror sweep never ran")

	time.Sleep(200 * time.Millisecond)
	if got := mir.sweeps(); got != 1 {
		t.Errorf("expected 1 mirror sweep, got %d", got)
	}
}

func TestDaemon_MeteredNetworkDefersMirror(t *testing.T) {
	d, _, mir, _ := setupDaemon(t)

	d.SetNetwork(NetworkMetered)
	waitFor(t, time.Second, func() bool { return mir.abortCount() >= 1 },
		"network drop never aborted the mirror")

	d.NotifyRemoteChange("t1")
	time.Sleep(200 * time.Millisecond)
	if got := mir.sweeps(); got != 0 {
		t.Fatalf("expected no sweeps on a metered network, got %d", got)
	}

	// The pending sweep survives until connectivity allows it.
	d.SetNetwork(NetworkUnrestricted)
	waitFor(t, 3*time.Second, func() bool { return mir.sweeps() == 1 },
		"pending sweep never ran after recovery")
}

func TestDaemon_NetworkLossAbortsAndRetriggersEdits(t *testing.T) {
	d, rec, mir, _ := setupDaemon(t)

	d.SetNetwork(NetworkNone)
	waitFor(t, time.Second, func() bool { return mir.abortCount() >= 1 },
		"offline transition never aborted the mirror")

	// Recovery schedules a reconciliation for whatever queued up offline.
	d.SetNetwork(NetworkUnrestricted)
	waitFor(t, 3*time.Second, func() bool { return rec.count() >= 1 },
		"recovery never triggered reconciliation")
}

func TestDaemon_FailedSweepIsRequeued(t *testing.T) {
	d, _, mir, _ := setupDaemon(t)
	mir.mu.Lock()
	mir.failFirst = true
	mir.mu.Unlock()

	d.NotifyRemoteChange("t1")

	waitFor(t, 5*time.Second, func() bool { return mir.sweeps() >= 2 },
		"failed sweep was never retried")
}
