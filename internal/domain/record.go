package domain

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// RecordStatus represents the lifecycle state of an ingested datasource.
// Values include RecordStatusPending, RecordStatusDone, and RecordStatusFailed.
type RecordStatus string

const (
	RecordStatusPending RecordStatus = "PENDING"
	RecordStatusDone    RecordStatus = "DONE"
	RecordStatusFailed  RecordStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusDone || s == RecordStatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
// Only PENDING -> DONE and PENDING -> FAILED are legal; re-applying the
// current status is treated as a no-op and allowed.
func (s RecordStatus) CanTransition(next RecordStatus) bool {
	if s == next {
		return true
	}
	return s == RecordStatusPending && next.IsTerminal()
}

// IngestType identifies how a datasource body is parsed.
type IngestType string

const (
	IngestTypeTXT      IngestType = "TXT"
	IngestTypePDF      IngestType = "PDF"
	IngestTypeMarkdown IngestType = "MARKDOWN"
)

// ParseIngestType normalizes a user supplied type. TEXT is accepted as TXT.
func ParseIngestType(s string) (IngestType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TXT", "TEXT":
		return IngestTypeTXT, nil
	case "PDF":
		return IngestTypePDF, nil
	case "MARKDOWN", "MD":
		return IngestTypeMarkdown, nil
	default:
		return "", &ConfigurationError{Key: s, Kind: ErrUnsupportedType, Detail: "unsupported datasource type"}
	}
}

// Suffix returns the file extension used when the body is staged on disk.
func (t IngestType) Suffix() string {
	switch t {
	case IngestTypePDF:
		return ".pdf"
	case IngestTypeMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// Record is an ingested datasource together with its fine-tune job state.
type Record struct {
	ID             string            `gorm:"type:text;primaryKey" json:"id"`
	Type           IngestType        `gorm:"type:text;not null" json:"type"`
	URL            string            `gorm:"type:text" json:"url,omitempty"`
	Content        string            `gorm:"type:text" json:"content,omitempty"`
	Provider       FinetuneProvider  `gorm:"type:text;not null" json:"provider"`
	BaseModel      BaseModel         `gorm:"type:text;not null" json:"base_model"`
	EmbeddingModel string            `gorm:"type:text" json:"embedding_model,omitempty"`
	Status         RecordStatus      `gorm:"type:text;not null;default:PENDING;index" json:"status"`
	Job            datatypes.JSONMap `json:"job,omitempty"`
	JobID          string            `gorm:"type:text;index" json:"-"`
	WebhookURL     string            `gorm:"type:text" json:"webhook_url,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Record.
func (Record) TableName() string {
	return "datasources"
}

// Validate checks that exactly one of URL and Content is present.
func (r *Record) Validate() error {
	hasURL := strings.TrimSpace(r.URL) != ""
	hasContent := r.Content != ""
	if hasURL == hasContent {
		return ErrMissingSource
	}
	return nil
}

// Transition moves the record to next, refusing anything but
// PENDING -> terminal.
func (r *Record) Transition(next RecordStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// AttachJob stores the job blob and mirrors its id into the indexed column.
// The job id is immutable once assigned.
func (r *Record) AttachJob(job map[string]interface{}) error {
	id, _ := job["id"].(string)
	if r.JobID != "" && id != r.JobID {
		return fmt.Errorf("%w: job id already assigned (%s)", ErrInvalidTransition, r.JobID)
	}
	r.Job = datatypes.JSONMap(job)
	r.JobID = id
	return nil
}

// Clone returns a copy whose job map can be mutated independently.
func (r *Record) Clone() *Record {
	c := *r
	if r.Job != nil {
		c.Job = make(datatypes.JSONMap, len(r.Job))
		for k, v := range r.Job {
			c.Job[k] = v
		}
	}
	return &c
}
