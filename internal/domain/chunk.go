package domain

import "strings"

// Metadata keys always present on chunks and embedding entries.
const (
	MetaContent  = "content"
	MetaRecordID = "record_id"
	MetaOrdinal  = "ordinal"
	MetaSource   = "source"
)

// Chunk is a bounded span of a source document.
type Chunk struct {
	ID       string
	Text     string
	Ordinal  int
	Metadata map[string]interface{}
}

// IsEmpty reports whether the chunk carries no usable text.
func (c Chunk) IsEmpty() bool {
	return strings.TrimSpace(c.Text) == ""
}

// EmbeddingEntry is one vector-store row.
type EmbeddingEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// Match is a ranked vector-store hit.
type Match struct {
	ID       string                 `json:"id"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Text returns the stored chunk content, if any.
func (m Match) Text() string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[MetaContent].(string)
	return s
}

// QAPair is one synthesized training example.
type QAPair struct {
	Context  string `json:"context"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
