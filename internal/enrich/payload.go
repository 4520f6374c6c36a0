package enrich

import (
	"encoding/json"
	"fmt"
	"time"
)

// PayloadAction is one extracted commitment in the enrichment payload.
type PayloadAction struct {
	Title   string `json:"title"`
	Owner   string `json:"owner,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

// Payload is the enrichment agent's output. All four top-level fields
// are required by the contract; a missing field fails validation.
type Payload struct {
	Summary   string          `json:"summary"`
	Decisions []string        `json:"decisions"`
	Actions   []PayloadAction `json:"actions"`
	Tags      []string        `json:"tags"`
}

// ParsePayload decodes and strictly validates a payload. Missing
// required fields or malformed structure are validation failures, not
// partial successes.
func ParsePayload(data []byte) (*Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	for _, field := range []string{"summary", "decisions", "actions", "tags"} {
		if _, ok := raw[field]; !ok {
			return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("payload missing required field %q", field)}
		}
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	if payload.Summary == "" {
		return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("payload summary is empty")}
	}
	for i, act := range payload.Actions {
		if act.Title == "" {
			return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("payload action %d has no title", i+1)}
		}
		if act.DueDate != "" {
			if _, err := time.Parse("2006-01-02", act.DueDate); err != nil {
				return nil, &Error{Kind: FailValidation, Err: fmt.Errorf("payload action %d has invalid due_date %q", i+1, act.DueDate)}
			}
		}
	}
	return &payload, nil
}

// Due returns the parsed due date, or nil when absent. Call only after
// validation.
func (a PayloadAction) Due() *time.Time {
	if a.DueDate == "" {
		return nil
	}
	due, err := time.Parse("2006-01-02", a.DueDate)
	if err != nil {
		return nil
	}
	return &due
}
