package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Strob0t/decisiongate/internal/domain/action"
	"github.com/Strob0t/decisiongate/internal/domain/outcome"
)

// ListThresholds returns the threshold table keyed by "capability/LEVEL".
func (h *Handlers) ListThresholds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Thresholds.Thresholds())
}

type overrideRequest struct {
	Value float64 `json:"value"`
}

// SetThresholdOverride pins the threshold of one capability and level. The
// value is clamped to the configured bounds.
func (h *Handlers) SetThresholdOverride(w http.ResponseWriter, r *http.Request) {
	capability := action.Capability(urlParam(r, "capability"))
	level := action.Level(strings.ToUpper(urlParam(r, "level")))
	req, ok := readJSON[overrideRequest](w, r)
	if !ok {
		return
	}
	if err := h.Engine.Thresholds.SetOverride(capability, level, req.Value); err != nil {
		writeDomainError(w, err, "threshold not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		outcome.Key{Capability: capability, Level: level}.String(): h.Engine.Thresholds.GetThreshold(capability, level),
	})
}

type recordResponse struct {
	Recorded bool `json:"recorded"`
}

// RecordOutcome feeds an externally observed decision outcome into the
// threshold manager. A duplicate decision id answers 200 with recorded=false.
func (h *Handlers) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	o, ok := readJSON[outcome.Outcome](w, r)
	if !ok {
		return
	}
	o.Level = action.Level(strings.ToUpper(string(o.Level)))
	added, err := h.Engine.Thresholds.RecordOutcome(r.Context(), o)
	if err != nil && !added {
		writeDomainError(w, err, "outcome not found")
		return
	}
	if err != nil {
		slog.Warn("outcome recorded but not persisted", "decision_id", o.DecisionID, "error", err)
	}
	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, recordResponse{Recorded: added})
}

type weightsRequest struct {
	Weights map[string]float64 `json:"weights"`
}

// UpdateCriteria replaces criterion weights for a capability ("global" for
// the default set).
func (h *Handlers) UpdateCriteria(w http.ResponseWriter, r *http.Request) {
	capability := urlParam(r, "capability")
	req, ok := readJSON[weightsRequest](w, r)
	if !ok {
		return
	}
	if len(req.Weights) == 0 {
		writeError(w, http.StatusBadRequest, "weights is required")
		return
	}
	set, err := h.Engine.Evaluator.UpdateWeights(r.Context(), capability, req.Weights)
	if err != nil {
		writeDomainError(w, err, "criteria set not found")
		return
	}
	writeJSON(w, http.StatusOK, set)
}
