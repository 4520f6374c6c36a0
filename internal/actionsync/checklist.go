// Package actionsync keeps the working database's action rows and the
// human-editable checklist inside delivered documents reconciled.
package actionsync

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/renlowe/paradrop/internal/domain/action"
)

// Checklist block markers. Everything between them is owned by the
// synchronizer; the surrounding document belongs to the user and is
// never rewritten.
const (
	BlockStart = "<!-- paradrop:actions -->"
	BlockEnd   = "<!-- /paradrop:actions -->"
)

// Item is one parsed checklist line.
type Item struct {
	ID         string
	Title      string
	Owner      *string
	DueDate    *time.Time
	Status     action.Status
	RenderedAt time.Time
}

var (
	itemRe = regexp.MustCompile(`^- \[([ xX-])\]\s+(.*?)\s*(?:<!--\s*action:(\S+)\s+mod:(\S+)\s*-->)?\s*$`)
	metaRe = regexp.MustCompile(`\s*\((?:owner:\s*([^,)]+))?(?:,\s*)?(?:due:\s*(\d{4}-\d{2}-\d{2}))?\)$`)
)

// RenderBlock renders action rows as a checklist block. Cancelled
// actions render as "[-]" so completion state survives a round trip.
func RenderBlock(actions []action.Action) string {
	var b strings.Builder
	b.WriteString(BlockStart)
	b.WriteByte('\n')
	for i := range actions {
		b.WriteString(renderItem(&actions[i]))
		b.WriteByte('\n')
	}
	b.WriteString(BlockEnd)
	return b.String()
}

func renderItem(act *action.Action) string {
	box := " "
	switch act.Status {
	case action.StatusCompleted:
		box = "x"
	case action.StatusCancelled:
		box = "-"
	}

	var meta []string
	if act.Owner != nil && *act.Owner != "" {
		meta = append(meta, "owner: "+*act.Owner)
	}
	if act.DueDate != nil {
		meta = append(meta, "due: "+act.DueDate.Format("2006-01-02"))
	}

	line := fmt.Sprintf("- [%s] %s", box, act.Title)
	if len(meta) > 0 {
		line += " (" + strings.Join(meta, ", ") + ")"
	}
	line += fmt.Sprintf(" <!-- action:%s mod:%s -->",
		act.ID, act.ModifiedAt.UTC().Format(time.RFC3339))
	return line
}

// ParseBlock extracts checklist items from a document. found is false
// when the block is absent or its markers are corrupted; the caller
// must treat that as "no information from this side", never as a set
// of deletions. Unparseable lines inside an intact block are skipped.
func ParseBlock(content string) (items []Item, found bool) {
	start := strings.Index(content, BlockStart)
	if start < 0 {
		return nil, false
	}
	rest := content[start+len(BlockStart):]
	end := strings.Index(rest, BlockEnd)
	if end < 0 {
		return nil, false
	}

	for _, line := range strings.Split(rest[:end], "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if item, ok := parseItem(line); ok {
			items = append(items, item)
		}
	}
	return items, true
}

func parseItem(line string) (Item, bool) {
	match := itemRe.FindStringSubmatch(line)
	if match == nil {
		return Item{}, false
	}

	item := Item{ID: match[3]}
	switch match[1] {
	case "x", "X":
		item.Status = action.StatusCompleted
	case "-":
		item.Status = action.StatusCancelled
	default:
		item.Status = action.StatusPending
	}

	title := match[2]
	if meta := metaRe.FindStringSubmatch(title); meta != nil {
		title = strings.TrimSuffix(title, meta[0])
		if owner := strings.TrimSpace(meta[1]); owner != "" {
			item.Owner = &owner
		}
		if meta[2] != "" {
			if due, err := time.Parse("2006-01-02", meta[2]); err == nil {
				item.DueDate = &due
			}
		}
	}
	item.Title = strings.TrimSpace(title)

	if match[4] != "" {
		if rendered, err := time.Parse(time.RFC3339, match[4]); err == nil {
			item.RenderedAt = rendered
		}
	}
	return item, true
}

// SpliceBlock replaces the managed block inside content, or appends
// one under an Actions heading when the document has none yet. Bytes
// outside the block are preserved exactly.
func SpliceBlock(content, block string) string {
	start := strings.Index(content, BlockStart)
	if start >= 0 {
		rest := content[start+len(BlockStart):]
		if end := strings.Index(rest, BlockEnd); end >= 0 {
			return content[:start] + block + rest[end+len(BlockEnd):]
		}
	}

	trimmed := strings.TrimRight(content, "\n")
	if trimmed == "" {
		return block + "\n"
	}
	return trimmed + "\n\n## Actions\n\n" + block + "\n"
}
