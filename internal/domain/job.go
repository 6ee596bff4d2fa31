package domain

// JobStatus represents the remote status of a fine-tune job.
// Values include JobStatusPending, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the remote job has finished.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// RecordStatus maps a terminal job status onto the owning record.
func (s JobStatus) RecordStatus() RecordStatus {
	switch s {
	case JobStatusSucceeded:
		return RecordStatusDone
	case JobStatusFailed, JobStatusCancelled:
		return RecordStatusFailed
	}
	return RecordStatusPending
}

// NormalizeJobStatus maps provider specific status strings onto JobStatus.
func NormalizeJobStatus(s string) JobStatus {
	switch s {
	case "succeeded", "success", "completed":
		return JobStatusSucceeded
	case "failed", "error":
		return JobStatusFailed
	case "cancelled", "canceled":
		return JobStatusCancelled
	case "running", "processing", "starting", "validating_files", "queued":
		return JobStatusRunning
	}
	return JobStatusPending
}

// FinetuneJob is the handle returned by a fine-tune provider.
type FinetuneJob struct {
	ID           string                 `json:"id"`
	Provider     FinetuneProvider       `json:"provider"`
	Status       JobStatus              `json:"status"`
	TrainingFile string                 `json:"training_file"`
	Model        string                 `json:"model,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSONMap flattens the job into the blob stored on Record.Job.
// Provider metadata is copied first so the canonical fields win.
func (j *FinetuneJob) ToJSONMap() map[string]interface{} {
	out := make(map[string]interface{}, len(j.Metadata)+5)
	for k, v := range j.Metadata {
		out[k] = v
	}
	out["id"] = j.ID
	out["provider"] = string(j.Provider)
	out["status"] = string(j.Status)
	out["training_file"] = j.TrainingFile
	if j.Model != "" {
		out["model"] = j.Model
	}
	return out
}
