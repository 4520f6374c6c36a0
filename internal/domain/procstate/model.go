package procstate

import "time"

// State is a processing state for a document. Forward transitions are
// monotonic; enrich_failed loops back to enriching until the retry
// budget is spent.
type State string

const (
	StateDiscovered  State = "discovered"
	StateClassifying State = "classifying"
	StateClassified  State = "classified"
	StateRouting     State = "routing"
	StateRouted      State = "routed"
	StateEnriching   State = "enriching"
	StateEnriched    State = "enriched"
	StateDelivering  State = "delivering"
	StateDelivered   State = "delivered"

	StateEnrichFailed      State = "enrich_failed"
	StateNeedsReview       State = "needs_review"
	StatePermanentlyFailed State = "permanently_failed"
)

// Step names index the per-step retry counters on a Record.
// StepEnrichValidation counts only malformed-payload failures; it is
// persisted alongside StepEnrich so the tighter validation budget
// survives a restart.
const (
	StepClassify         = "classify"
	StepRoute            = "route"
	StepEnrich           = "enrich"
	StepEnrichValidation = "enrich_validation"
	StepDeliver          = "deliver"
)

// transitions is the closed set of legal state changes. Anything not
// listed is rejected by CanTransition.
var transitions = map[State][]State{
	StateDiscovered:   {StateClassifying},
	StateClassifying:  {StateClassified, StateNeedsReview, StatePermanentlyFailed},
	StateClassified:   {StateRouting},
	StateRouting:      {StateRouted, StateNeedsReview, StatePermanentlyFailed},
	StateRouted:       {StateEnriching},
	StateEnriching:    {StateEnriched, StateEnrichFailed},
	StateEnrichFailed: {StateEnriching, StateNeedsReview, StatePermanentlyFailed},
	StateEnriched:     {StateDelivering},
	StateDelivering:   {StateDelivered, StateNeedsReview, StatePermanentlyFailed},
	// A user can requeue a reviewed document once the cause is fixed.
	StateNeedsReview: {StateClassifying, StateEnriching, StatePermanentlyFailed},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state can never be left. The Watcher
// drops re-saves of content whose record reached a terminal state.
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StatePermanentlyFailed
}

// Record is the persisted state machine instance for one document. It
// is the single source of truth for what step the document is on;
// components never infer state from filesystem presence.
type Record struct {
	DocumentKey string         `json:"document_key"`
	ContentHash string         `json:"content_hash"`
	State       State          `json:"state"`
	Retries     map[string]int `json:"retries"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RetryCount returns the retry counter for a step.
func (r *Record) RetryCount(step string) int {
	return r.Retries[step]
}

// IncrementRetry bumps the retry counter for a step and returns the new
// value.
func (r *Record) IncrementRetry(step string) int {
	if r.Retries == nil {
		r.Retries = make(map[string]int)
	}
	r.Retries[step]++
	return r.Retries[step]
}

// RetiredKey names a delivered record whose document key has been
// reused for new content. The hash prefix keeps retired keys unique
// and readable in listings.
func RetiredKey(documentKey, contentHash string) string {
	if len(contentHash) > 12 {
		contentHash = contentHash[:12]
	}
	return documentKey + "@" + contentHash
}

// Transition is one persisted state change, kept as an audit trail with
// a timestamp per transition.
type Transition struct {
	ID          int64     `json:"id"`
	DocumentKey string    `json:"document_key"`
	From        State     `json:"from"`
	To          State     `json:"to"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
