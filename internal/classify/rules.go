package classify

import (
	"regexp"
	"strings"

	"github.com/renlowe/paradrop/internal/domain/document"
)

// Confidence levels per rule tier. Filename matches outrank content
// heuristics, which outrank anything the research fallback infers.
const (
	filenameConfidence = 0.9
	contentConfidence  = 0.7
	weakConfidence     = 0.55
	lowConfidence      = 0.2
)

var (
	transcriptNameRe = regexp.MustCompile(`(?i)^\d{4}-\d{2}-\d{2}\b.*\b(call|meeting|sync|standup|1on1|interview)\b`)
	noteNameRe       = regexp.MustCompile(`(?i)\b(notes?|journal|scratch)\b`)
	reportNameRe     = regexp.MustCompile(`(?i)\b(report|summary|review|retro(spective)?)\b`)

	speakerLineRe = regexp.MustCompile(`(?m)^[A-Z][\w .'-]{0,40}:\s+\S`)
	headingRe     = regexp.MustCompile(`(?m)^#{1,3}\s+\S`)
)

var reportKeywords = []string{"executive summary", "key findings", "metrics", "quarterly", "kpi"}

func classifyByFilename(filename string) (document.Type, float64) {
	switch {
	case transcriptNameRe.MatchString(filename):
		return document.TypeTranscript, filenameConfidence
	case reportNameRe.MatchString(filename):
		return document.TypeReport, filenameConfidence
	case noteNameRe.MatchString(filename):
		return document.TypeNote, filenameConfidence
	}
	return document.TypeUnknown, 0
}

// classifyByContent applies structural heuristics: speaker-label
// density marks a transcript, report keywords plus headings mark a
// report, headings alone suggest a note.
func classifyByContent(text string) (document.Type, float64) {
	lines := strings.Count(text, "\n") + 1
	speakers := len(speakerLineRe.FindAllString(text, -1))
	if lines >= 8 && speakers*5 >= lines {
		return document.TypeTranscript, contentConfidence
	}
	if strings.Contains(strings.ToLower(text), "attendees:") {
		return document.TypeTranscript, contentConfidence
	}

	lower := strings.ToLower(text)
	for _, kw := range reportKeywords {
		if strings.Contains(lower, kw) {
			return document.TypeReport, contentConfidence
		}
	}

	if headingRe.MatchString(text) {
		return document.TypeNote, weakConfidence
	}
	return document.TypeUnknown, 0
}
