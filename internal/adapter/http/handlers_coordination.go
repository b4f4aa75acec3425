package http

import (
	"net/http"

	"github.com/Strob0t/decisiongate/internal/domain/coordination"
)

type coordinationRequest struct {
	Payload map[string]any `json:"payload"`
}

// RunCoordination runs the rule for a trigger and returns its audit event.
// A failed run is still a completed request; an unknown trigger is a 404.
func (h *Handlers) RunCoordination(w http.ResponseWriter, r *http.Request) {
	var req coordinationRequest
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = readJSON[coordinationRequest](w, r); !ok {
			return
		}
	}
	ev := h.Engine.Coordination.RunCoordination(r.Context(), urlParam(r, "trigger"), req.Payload)
	if ev.Status == coordination.StatusError {
		writeJSON(w, http.StatusNotFound, ev)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListCoordinationEvents returns audit events, newest first. With
// persisted=true the events are read from the store instead of the
// in-memory log.
func (h *Handlers) ListCoordinationEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if r.URL.Query().Get("persisted") == "true" && h.Store != nil {
		if limit == 0 {
			limit = 100
		}
		events, err := h.Store.ListEvents(r.Context(), limit)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		if events == nil {
			events = []coordination.Event{}
		}
		writeJSON(w, http.StatusOK, events)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Coordination.Events(limit))
}
