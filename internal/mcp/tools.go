package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/renlowe/paradrop/internal/domain/action"
	"github.com/renlowe/paradrop/internal/domain/procstate"
)

// ActionView is the wire shape of an action.
type ActionView struct {
	ID          string `json:"id"`
	DocumentKey string `json:"document_key"`
	Anchor      string `json:"anchor"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Owner       string `json:"owner,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	ModifiedAt  string `json:"modified_at"`
	ModifiedBy  string `json:"modified_by"`
	Archived    bool   `json:"archived"`
	Source      string `json:"source,omitempty"`
}

// DocumentView is the wire shape of a delivered document.
type DocumentView struct {
	Key         string  `json:"key"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Entity      string  `json:"entity,omitempty"`
	Destination string  `json:"destination,omitempty"`
}

// TransitionView is one audit-log entry.
type TransitionView struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

type listActionsParams struct {
	DocumentKey     string   `json:"document_key,omitempty" jsonschema:"filter by source document key"`
	Statuses        []string `json:"statuses,omitempty" jsonschema:"filter by status: pending, completed, cancelled"`
	IncludeArchived bool     `json:"include_archived,omitempty" jsonschema:"include actions of delivered documents"`
	Limit           int      `json:"limit,omitempty" jsonschema:"maximum number of results"`
	Offset          int      `json:"offset,omitempty" jsonschema:"offset for pagination"`
}

type listActionsResult struct {
	Actions []ActionView `json:"actions"`
}

type getActionParams struct {
	ID string `json:"id" jsonschema:"action ID"`
}

type completeActionParams struct {
	ID string `json:"id" jsonschema:"action ID"`
}

type searchActionsParams struct {
	Query string `json:"query" jsonschema:"substring matched against action titles"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results"`
}

type listDocumentsResult struct {
	Documents []DocumentView `json:"documents"`
}

type documentStatusParams struct {
	Key string `json:"key" jsonschema:"document key (path relative to the holding area)"`
}

type documentStatusResult struct {
	Key         string           `json:"key"`
	State       string           `json:"state"`
	LastError   string           `json:"last_error,omitempty"`
	Transitions []TransitionView `json:"transitions"`
}

func registerTools(server *sdkmcp.Server, svcs Services) {
	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_actions",
		Description: "List extracted actions, optionally filtered by document and status",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in listActionsParams) (*sdkmcp.CallToolResult, listActionsResult, error) {
		statuses := make([]action.Status, 0, len(in.Statuses))
		for _, s := range in.Statuses {
			statuses = append(statuses, action.Status(s))
		}
		acts, err := svcs.Actions.List(ctx, action.ListOptions{
			DocumentKey:     in.DocumentKey,
			Statuses:        statuses,
			IncludeArchived: in.IncludeArchived,
			Limit:           in.Limit,
			Offset:          in.Offset,
		})
		if err != nil {
			return nil, listActionsResult{}, err
		}
		return nil, listActionsResult{Actions: actionViews(ctx, svcs, acts)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_action",
		Description: "Get a single action by ID",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in getActionParams) (*sdkmcp.CallToolResult, ActionView, error) {
		act, err := svcs.Actions.Get(ctx, in.ID)
		if err != nil {
			return nil, ActionView{}, mapError(err)
		}
		return nil, actionView(ctx, svcs, act), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "complete_action",
		Description: "Mark an action completed; the checklist line is updated on the next reconciliation pass",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in completeActionParams) (*sdkmcp.CallToolResult, ActionView, error) {
		act, err := svcs.Actions.SetStatus(ctx, in.ID, action.StatusCompleted, action.OriginDatabase)
		if err != nil {
			return nil, ActionView{}, mapError(err)
		}
		return nil, actionView(ctx, svcs, act), nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "search_actions",
		Description: "Search actions by title substring",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in searchActionsParams) (*sdkmcp.CallToolResult, listActionsResult, error) {
		acts, err := svcs.Actions.List(ctx, action.ListOptions{
			TitleContains:   in.Query,
			IncludeArchived: true,
			Limit:           in.Limit,
		})
		if err != nil {
			return nil, listActionsResult{}, err
		}
		return nil, listActionsResult{Actions: actionViews(ctx, svcs, acts)}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "list_documents",
		Description: "List delivered documents and their filing destinations",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in struct{}) (*sdkmcp.CallToolResult, listDocumentsResult, error) {
		docs, err := svcs.Documents.ListDelivered(ctx)
		if err != nil {
			return nil, listDocumentsResult{}, err
		}
		views := make([]DocumentView, 0, len(docs))
		for _, doc := range docs {
			entity := ""
			if doc.Entity != nil {
				entity = *doc.Entity
			}
			views = append(views, DocumentView{
				Key:         doc.Key,
				Type:        string(doc.Type),
				Confidence:  doc.Confidence,
				Entity:      entity,
				Destination: doc.Destination,
			})
		}
		return nil, listDocumentsResult{Documents: views}, nil
	})

	sdkmcp.AddTool(server, &sdkmcp.Tool{
		Name:        "get_document_status",
		Description: "Get a document's processing state and recent transitions",
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in documentStatusParams) (*sdkmcp.CallToolResult, documentStatusResult, error) {
		rec, err := svcs.Status.Get(ctx, in.Key)
		if err != nil {
			return nil, documentStatusResult{}, mapError(err)
		}
		history, err := svcs.Status.History(ctx, in.Key, 20)
		if err != nil {
			return nil, documentStatusResult{}, err
		}

		out := documentStatusResult{
			Key:         rec.DocumentKey,
			State:       string(rec.State),
			Transitions: make([]TransitionView, 0, len(history)),
		}
		if rec.LastError != nil {
			out.LastError = *rec.LastError
		}
		for _, tr := range history {
			out.Transitions = append(out.Transitions, TransitionView{
				From:      string(tr.From),
				To:        string(tr.To),
				Detail:    tr.Detail,
				Timestamp: tr.CreatedAt.Format(time.RFC3339),
			})
		}
		return nil, out, nil
	})
}

func actionViews(ctx context.Context, svcs Services, acts []action.Action) []ActionView {
	views := make([]ActionView, 0, len(acts))
	for i := range acts {
		views = append(views, actionView(ctx, svcs, &acts[i]))
	}
	return views
}

func actionView(ctx context.Context, svcs Services, act *action.Action) ActionView {
	view := ActionView{
		ID:          act.ID,
		DocumentKey: act.DocumentKey,
		Anchor:      act.Anchor,
		Title:       act.Title,
		Status:      string(act.Status),
		Priority:    string(act.Priority),
		ModifiedAt:  act.ModifiedAt.Format(time.RFC3339),
		ModifiedBy:  string(act.ModifiedBy),
		Archived:    act.Archived,
	}
	if act.Owner != nil {
		view.Owner = *act.Owner
	}
	if act.DueDate != nil {
		view.DueDate = act.DueDate.Format("2006-01-02")
	}
	if doc, err := svcs.Documents.Get(ctx, act.DocumentKey); err == nil && doc.Destination != "" {
		view.Source = act.SourceRef(doc.Destination)
	}
	return view
}

func mapError(err error) error {
	switch {
	case errors.Is(err, action.ErrActionNotFound):
		return fmt.Errorf("action not found")
	case errors.Is(err, procstate.ErrRecordNotFound):
		return fmt.Errorf("no processing record for that document")
	default:
		return err
	}
}
