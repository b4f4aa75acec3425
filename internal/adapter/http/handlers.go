package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/decisiongate/internal/adapter/ws"
	"github.com/Strob0t/decisiongate/internal/domain"
	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/emergency"
	"github.com/Strob0t/decisiongate/internal/port/messagequeue"
	"github.com/Strob0t/decisiongate/internal/port/persistence"
	"github.com/Strob0t/decisiongate/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Engine     *service.Engine
	Store      persistence.Store
	Queue      messagequeue.Queue // optional
	Hub        *ws.Hub            // optional
	Subsystems []string           // reported by /health
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status        string            `json:"status"`
	Phase         emergency.Phase   `json:"phase"`
	Paused        bool              `json:"paused"`
	Lanes         map[string]int    `json:"lanes"`
	Subsystems    map[string]string `json:"subsystems,omitempty"`
	QueueUp       *bool             `json:"queue_connected,omitempty"`
	WSConnections int               `json:"ws_connections"`
	Time          time.Time         `json:"time"`
}

// Health reports liveness plus the emergency phase and lane depths. A tripped
// engine still answers 200 with status "degraded"; a stopped one answers 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st := h.Engine.Emergency.State()
	stats := h.Engine.Executor.Stats()
	resp := healthResponse{
		Status: "ok",
		Phase:  st.Phase,
		Paused: st.Paused,
		Lanes:  make(map[string]int, len(stats.Pending)),
		Time:   time.Now().UTC(),
	}
	for l, n := range stats.Pending {
		resp.Lanes[string(l)] = n
	}
	if len(h.Subsystems) > 0 {
		resp.Subsystems = h.Engine.Health.Statuses(ctx, h.Subsystems)
	}
	if h.Queue != nil {
		up := h.Queue.IsConnected()
		resp.QueueUp = &up
	}
	if h.Hub != nil {
		resp.WSConnections = h.Hub.ConnectionCount()
	}

	status := http.StatusOK
	switch st.Phase {
	case emergency.PhasePaused:
		resp.Status = "degraded"
	case emergency.PhaseStopped:
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ---------------------------------------------------------------------------
// Candidates and actions
// ---------------------------------------------------------------------------

type submitRequest struct {
	Candidates []action.Candidate `json:"candidates"`
}

// SubmitCandidates evaluates a batch of mutually exclusive candidates and
// enqueues the best one.
func (h *Handlers) SubmitCandidates(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitRequest](w, r)
	if !ok {
		return
	}
	now := time.Now()
	for i := range req.Candidates {
		if req.Candidates[i].SubmittedAt.IsZero() {
			req.Candidates[i].SubmittedAt = now
		}
	}
	sub, err := h.Engine.Submit(r.Context(), req.Candidates)
	if err != nil {
		writeDomainError(w, err, "candidate not found")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// ListActions lists tracked actions, newest first. Supports status, level,
// capability and limit query parameters.
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	q := r.URL.Query()
	f := action.Filter{
		Status:     action.Status(strings.ToUpper(q.Get("status"))),
		Level:      action.Level(strings.ToUpper(q.Get("level"))),
		Capability: action.Capability(q.Get("capability")),
		Limit:      limit,
	}
	if f.Level != "" && !f.Level.Valid() {
		writeError(w, http.StatusBadRequest, "unknown level "+string(f.Level))
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Executor.List(f))
}

// CancelAction cancels a pending or executing action.
func (h *Handlers) CancelAction(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Engine.Executor.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	a, err := h.Engine.Executor.Get(id)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// LaneStats reports lane depths and status totals.
func (h *Handlers) LaneStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Executor.Stats())
}

// ---------------------------------------------------------------------------
// Emergency protocol
// ---------------------------------------------------------------------------

type emergencyResponse struct {
	State          emergency.State     `json:"state"`
	LatestSnapshot *emergency.Snapshot `json:"latest_snapshot,omitempty"`
}

// EmergencyStatus returns the breaker state and the latest snapshot, if any.
func (h *Handlers) EmergencyStatus(w http.ResponseWriter, r *http.Request) {
	resp := emergencyResponse{State: h.Engine.Emergency.State()}
	if h.Store != nil {
		snap, err := h.Store.LatestSnapshot(r.Context())
		switch {
		case err == nil:
			resp.LatestSnapshot = &snap
		case errors.Is(err, domain.ErrNotFound):
		default:
			slog.Warn("load latest emergency snapshot", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type tripRequest struct {
	Reason string `json:"reason"`
}

// TripEmergency opens the breaker on operator request.
func (h *Handlers) TripEmergency(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tripRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Reason, "reason") {
		return
	}
	if err := h.Engine.Emergency.Trip(r.Context(), "operator: "+req.Reason); err != nil {
		slog.Error("manual emergency trip incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, h.Engine.Emergency.State())
}

type resetRequest struct {
	Operator string `json:"operator"`
}

// ResetEmergency returns a stopped engine to monitoring.
func (h *Handlers) ResetEmergency(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resetRequest](w, r)
	if !ok {
		return
	}
	if err := h.Engine.Emergency.Reset(r.Context(), req.Operator); err != nil {
		writeDomainError(w, err, "emergency state not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Emergency.State())
}
