package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types). Inbound subjects additionally
// require their identifying fields.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	var check func() error
	switch subject {
	case SubjectCandidates:
		p := &CandidateBatchPayload{}
		target, check = p, func() error {
			if len(p.Candidates) == 0 {
				return errors.New("candidates must not be empty")
			}
			for i, c := range p.Candidates {
				if c.ID == "" || c.Capability == "" {
					return fmt.Errorf("candidate %d needs id and capability", i)
				}
			}
			return nil
		}
	case SubjectOutcomes:
		target = &OutcomePayload{}
	case SubjectActions:
		target = &ActionPayload{}
	case SubjectCoordinationRun:
		p := &CoordinationTriggerPayload{}
		target, check = p, func() error {
			if p.Trigger == "" {
				return errors.New("trigger is required")
			}
			return nil
		}
	case SubjectCoordinationEvents:
		target = &CoordinationEventPayload{}
	case SubjectEmergencyState:
		target = &EmergencyStatePayload{}
	case SubjectHealthSignals:
		p := &HealthSignalPayload{}
		target, check = p, func() error {
			if p.Subsystem == "" {
				return errors.New("subsystem is required")
			}
			return nil
		}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if check != nil {
		if err := check(); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
