package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/teamtrace/fieldsync/internal/mirror"
	"github.com/teamtrace/fieldsync/internal/reconcile"
)

// Handler formats engine events as dashboard messages. It bridges between
// the sync engines and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]int // queued edits per project
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server:  server,
		logger:  logger,
		pending: make(map[string]int),
	}
}

// OnEditQueued handles a local edit landing in the queue.
func (h *Handler) OnEditQueued(projectID, taskID string) {
	h.mu.Lock()
	h.pending[projectID]++
	pending := h.pendingTotalLocked()
	h.mu.Unlock()

	h.logger.Printf("Edit queued: project %s task %s", projectID, taskID)
	h.send(MessageTypeQueueUpdate, QueueUpdateData{
		ProjectID: projectID,
		TaskID:    taskID,
		Action:    "queued",
		Pending:   pending,
	})
}

// OnQueueDrained handles one project's queue being drained to a new size.
// Other projects' queued edits stay counted in the broadcast total.
func (h *Handler) OnQueueDrained(projectID string, remaining int) {
	h.mu.Lock()
	if remaining == 0 {
		delete(h.pending, projectID)
	} else {
		h.pending[projectID] = remaining
	}
	pending := h.pendingTotalLocked()
	h.mu.Unlock()

	h.send(MessageTypeQueueUpdate, QueueUpdateData{
		ProjectID: projectID,
		Action:    "drained",
		Pending:   pending,
	})
}

// OnReconcileComplete handles a finished reconciliation run.
func (h *Handler) OnReconcileComplete(res reconcile.Result, duration time.Duration, err error) {
	h.logger.Printf("Reconciliation complete: %d merged, %d retained, %d dropped in %v",
		res.Merged, res.Retained, res.Dropped, duration)

	data := ReconcileCompleteData{
		Merged:   res.Merged,
		Retained: res.Retained,
		Dropped:  res.Dropped,
		Duration: duration,
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeReconcileComplete, data)
}

// MirrorProgress returns a progress callback for one team, suitable for
// mirror.Config.OnProgress.
func (h *Handler) MirrorProgress(teamID string) func(mirror.Progress) {
	return func(p mirror.Progress) {
		h.send(MessageTypeMirrorProgress, MirrorProgressData{
			TeamID:  teamID,
			Current: p.Current,
			Total:   p.Total,
			Message: p.Message,
		})
	}
}

// OnMirrorComplete handles a finished team mirror sweep.
func (h *Handler) OnMirrorComplete(teamID string, success bool, duration time.Duration, err error) {
	h.logger.Printf("Mirror sweep for team %s complete: success=%v in %v", teamID, success, duration)

	data := MirrorCompleteData{
		TeamID:   teamID,
		Success:  success,
		Duration: duration,
	}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeMirrorComplete, data)
}

// OnNetworkChange handles a connectivity transition.
func (h *Handler) OnNetworkChange(class string) {
	h.logger.Printf("Network: %s", class)
	h.send(MessageTypeNetwork, NetworkData{Class: class})
}

// Pending returns the tracked number of queued edits across all projects.
func (h *Handler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pendingTotalLocked()
}

func (h *Handler) pendingTotalLocked() int {
	total := 0
	for _, n := range h.pending {
		total += n
	}
	return total
}

func (h *Handler) send(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
