package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the context.
const (
	FieldRequestID = "request_id"
	FieldRecordID  = "record_id"
	FieldJobID     = "job_id" // remote fine-tune job id
	FieldFlow      = "flow"   // embeddings | finetune | reconcile
	FieldProvider  = "provider"
	FieldComponent = "component"
	FieldSource    = "source"
)

// Metric fields, used on Entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
	FieldBatch      = "batch"
)
