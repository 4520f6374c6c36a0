package document

import "time"

// Type classifies a document. The set is closed: the Router and the
// enrichment directive builder switch exhaustively over it.
type Type string

const (
	TypeTranscript Type = "transcript"
	TypeNote       Type = "note"
	TypeReport     Type = "report"
	TypeUnknown    Type = "unknown"
)

// Valid reports whether t is one of the known document types.
func (t Type) Valid() bool {
	switch t {
	case TypeTranscript, TypeNote, TypeReport, TypeUnknown:
		return true
	}
	return false
}

// Document represents one file under processing. The key is derived
// from the file's path relative to the holding area and stays stable
// until delivery.
type Document struct {
	Key         string    `json:"key"`
	ContentHash string    `json:"content_hash"`
	Type        Type      `json:"type"`
	Confidence  float64   `json:"confidence"`
	Entity      *string   `json:"entity,omitempty"`
	StagingPath string    `json:"staging_path"`
	Destination string    `json:"destination,omitempty"`
	PayloadPath string    `json:"payload_path,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}
