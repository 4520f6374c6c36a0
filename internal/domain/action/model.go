package action

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of an action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Origin identifies which store last modified an action. Conflict
// resolution logs it so an audit can see which side won.
type Origin string

const (
	OriginDatabase Origin = "database"
	OriginDocument Origin = "document"
)

// Priority orders actions for review. Enrichment output carries no
// priority, so new actions start at PriorityNormal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Action is a commitment extracted from a document. DocumentKey is a
// non-owning back-reference: deleting or archiving an action never
// cascades to the document.
type Action struct {
	ID          string     `json:"id"`
	DocumentKey string     `json:"document_key"`
	Anchor      string     `json:"anchor"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Owner       *string    `json:"owner,omitempty"`
	ModifiedAt  time.Time  `json:"modified_at"`
	ModifiedBy  Origin     `json:"modified_by"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Draft describes an action before it has an identity, as produced by
// enrichment or found as an unrecognized checklist line.
type Draft struct {
	Title   string
	Owner   *string
	DueDate *time.Time
}

// SourceRef renders the action's source reference against the
// document's delivered path, e.g.
// "Accounts/Acme/meetings/2026-02-03-acme-call.md#action-1".
func (a *Action) SourceRef(destination string) string {
	return fmt.Sprintf("%s#%s", destination, a.Anchor)
}
