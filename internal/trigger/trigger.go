// Package trigger provides the background daemon that decides when the
// reconciliation and mirror engines run.
//
// The daemon reacts to three stimuli:
// 1. Media files landing in the staging directory (watched via fsnotify)
// 2. Remote change notifications carrying a team id
// 3. Network class transitions
//
// Stimuli are debounced so a burst of captures or notifications produces
// one engine run. Mirror sweeps only run on an unrestricted network; a
// drop to metered or offline aborts the in-flight sweep cooperatively.
package trigger

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teamtrace/fieldsync/internal/reconcile"
)

// NetworkClass describes the connectivity available to the engines.
type NetworkClass int

const (
	// NetworkNone means no usable connectivity.
	NetworkNone NetworkClass = iota
	// NetworkMetered allows reconciliation but defers bulk mirroring.
	NetworkMetered
	// NetworkUnrestricted allows both engines.
	NetworkUnrestricted
)

// String returns a human-readable network class name.
func (c NetworkClass) String() string {
	switch c {
	case NetworkNone:
		return "none"
	case NetworkMetered:
		return "metered"
	case NetworkUnrestricted:
		return "unrestricted"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Reconciler drains local edit queues toward the remote store.
type Reconciler interface {
	SyncAll(ctx context.Context) (reconcile.Result, error)
}

// Mirrorer sweeps a team's projects into the external mirror and can be
// stopped cooperatively mid-sweep.
type Mirrorer interface {
	SyncTeam(ctx context.Context, teamID string) (bool, error)
	Abort()
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a stimulus must sit quiet before the
	// corresponding engine runs. Batches rapid bursts together.
	DebounceInterval time.Duration

	// TickInterval is how often the pending stimuli are checked.
	TickInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		TickInterval:     250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[trigger] ", log.LstdFlags),
	}
}

// Daemon watches stimuli and runs the engines.
type Daemon struct {
	reconciler Reconciler
	mirror     Mirrorer
	stagingDir string
	config     *Config

	watcher *fsnotify.Watcher

	mu             sync.Mutex
	pendingEdits   time.Time            // last staging event, zero when none pending
	pendingMirrors map[string]time.Time // teamID -> last notification
	network        NetworkClass

	remoteChanges chan string
	networkEvents chan NetworkClass

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching stagingDir for captured media.
func New(reconciler Reconciler, mirror Mirrorer, stagingDir string, config *Config) (*Daemon, error) {
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if mirror == nil {
		return nil, fmt.Errorf("mirror cannot be nil")
	}
	if stagingDir == "" {
		return nil, fmt.Errorf("stagingDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		reconciler:     reconciler,
		mirror:         mirror,
		stagingDir:     stagingDir,
		config:         config,
		watcher:        watcher,
		pendingMirrors: make(map[string]time.Time),
		network:        NetworkUnrestricted,
		remoteChanges:  make(chan string, 16),
		networkEvents:  make(chan NetworkClass, 4),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// NotifyRemoteChange schedules a mirror sweep for a team. Safe to call from
// any goroutine; drops the notification when the daemon is shutting down.
func (d *Daemon) NotifyRemoteChange(teamID string) {
	select {
	case d.remoteChanges <- teamID:
	case <-d.ctx.Done():
	}
}

// SetNetwork reports a connectivity transition.
func (d *Daemon) SetNetwork(class NetworkClass) {
	select {
	case d.networkEvents <- class:
	case <-d.ctx.Done():
	}
}

// Start begins watching and blocks until ctx is cancelled or Stop is
// called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting trigger daemon")

	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := d.watcher.Add(d.stagingDir); err != nil {
		return fmt.Errorf("failed to watch staging directory: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.stagingDir)

	d.wg.Add(2)
	go d.watchEvents()
	go d.processPending()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping trigger daemon")

	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()

	d.config.Logger.Println("Trigger daemon stopped")
	return nil
}

// watchEvents folds filesystem events, remote notifications, and network
// transitions into the pending stimuli.
func (d *Daemon) watchEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			// New captures land as Create followed by one or more Writes.
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			d.config.Logger.Printf("Staging event: %s %s", event.Op, event.Name)
			d.queueEdit()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)

		case teamID := <-d.remoteChanges:
			d.queueMirror(teamID)

		case class := <-d.networkEvents:
			d.applyNetwork(class)
		}
	}
}

func (d *Daemon) queueEdit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingEdits = time.Now()
}

func (d *Daemon) queueMirror(teamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingMirrors[teamID] = time.Now()
}

// applyNetwork records a connectivity change. A drop below unrestricted
// stops the in-flight mirror sweep; a recovery re-queues nothing by itself
// because pending stimuli survive until they are processed.
func (d *Daemon) applyNetwork(class NetworkClass) {
	d.mu.Lock()
	prev := d.network
	d.network = class
	d.mu.Unlock()

	if prev == class {
		return
	}
	d.config.Logger.Printf("Network: %s -> %s", prev, class)

	if class != NetworkUnrestricted {
		d.mirror.Abort()
	}
	if class != NetworkNone && prev == NetworkNone {
		// Connectivity is back: queued edits may now be deliverable.
		d.queueEdit()
	}
}

// processPending runs the engines for stimuli that have sat quiet for the
// debounce interval.
func (d *Daemon) processPending() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runDue()
		}
	}
}

// runDue takes a snapshot of the due stimuli and releases the lock before
// running the engines, so new stimuli keep accumulating during a run.
func (d *Daemon) runDue() {
	now := time.Now()

	d.mu.Lock()
	network := d.network
	runEdits := false
	if !d.pendingEdits.IsZero() && now.Sub(d.pendingEdits) >= d.config.DebounceInterval && network != NetworkNone {
		runEdits = true
		d.pendingEdits = time.Time{}
	}
	var teams []string
	if network == NetworkUnrestricted {
		for teamID, queuedAt := range d.pendingMirrors {
			if now.Sub(queuedAt) >= d.config.DebounceInterval {
				teams = append(teams, teamID)
				delete(d.pendingMirrors, teamID)
			}
		}
	}
	d.mu.Unlock()

	if runEdits {
		d.config.Logger.Println("Running reconciliation")
		if res, err := d.reconciler.SyncAll(d.ctx); err != nil {
			d.config.Logger.Printf("Warning: reconciliation failed: %v", err)
			// Queue persistence means a later trigger will retry.
		} else {
			d.config.Logger.Printf("Reconciliation: %d merged, %d retained, %d dropped",
				res.Merged, res.Retained, res.Dropped)
		}
	}

	for _, teamID := range teams {
		d.config.Logger.Printf("Running mirror sweep for team %s", teamID)
		if _, err := d.mirror.SyncTeam(d.ctx, teamID); err != nil {
			d.config.Logger.Printf("Warning: mirror sweep for team %s failed: %v", teamID, err)
			d.queueMirror(teamID)
		}
	}
}
