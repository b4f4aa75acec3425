package messagequeue

import "time"

// CandidateBatchPayload is the schema for decisions.candidates messages.
// The candidates are mutually exclusive options for one decision.
type CandidateBatchPayload struct {
	BatchID    string             `json:"batch_id"`
	Candidates []CandidatePayload `json:"candidates"`
}

// CandidatePayload is one candidate action inside a batch.
type CandidatePayload struct {
	ID         string             `json:"id"`
	Capability string             `json:"capability"`
	Urgency    string             `json:"urgency"`
	Scores     map[string]float64 `json:"scores"`
	Payload    map[string]any     `json:"payload,omitempty"`
}

// OutcomePayload is the schema for decisions.outcomes messages.
type OutcomePayload struct {
	DecisionID string         `json:"decision_id"`
	Capability string         `json:"capability"`
	Level      string         `json:"level"`
	Confidence float64        `json:"confidence"`
	Success    bool           `json:"success"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    map[string]any `json:"context,omitempty"`
}

// ActionPayload is the schema for decisions.actions messages.
type ActionPayload struct {
	ActionID   string  `json:"action_id"`
	Capability string  `json:"capability"`
	Level      string  `json:"level"`
	Status     string  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// CoordinationTriggerPayload is the schema for coordination.trigger messages.
type CoordinationTriggerPayload struct {
	Trigger string         `json:"trigger"`
	Payload map[string]any `json:"payload,omitempty"`
}

// CoordinationEventPayload is the schema for coordination.events messages.
type CoordinationEventPayload struct {
	EventID  string `json:"event_id"`
	Trigger  string `json:"trigger"`
	Status   string `json:"status"`
	Steps    int    `json:"steps"`
	Fallback string `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EmergencyStatePayload is the schema for emergency.state messages.
type EmergencyStatePayload struct {
	Phase            string `json:"phase"`
	Paused           bool   `json:"paused"`
	RecoveryAttempts int    `json:"recovery_attempts"`
	Reason           string `json:"reason,omitempty"`
}

// HealthSignalPayload is the schema for health.signals messages.
type HealthSignalPayload struct {
	Subsystem string `json:"subsystem"`
	Critical  bool   `json:"critical"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}
