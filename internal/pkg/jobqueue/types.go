package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeDecrementStock JobType = "decrement_stock"
	JobTypeSendEmail      JobType = "send_email"
	JobTypeArchiveWebhook JobType = "archive_webhook"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	DedupeKey   string                 `json:"dedupe_key,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// DecrementStockJobPayload removes sold units from a variant.
type DecrementStockJobPayload struct {
	Key       string `json:"key"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (p DecrementStockJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"key":        p.Key,
		"variant_id": p.VariantID,
		"quantity":   p.Quantity,
	}
}

func DecrementStockJobPayloadFromMap(data map[string]interface{}) (*DecrementStockJobPayload, error) {
	var payload DecrementStockJobPayload
	err := remarshal(data, &payload)
	return &payload, err
}

// SendEmailJobPayload renders Template with Data and mails it to Recipient.
type SendEmailJobPayload struct {
	Key       string                 `json:"key"`
	Template  string                 `json:"template"`
	Recipient string                 `json:"recipient"`
	Data      map[string]interface{} `json:"data"`
}

func (p SendEmailJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"key":       p.Key,
		"template":  p.Template,
		"recipient": p.Recipient,
		"data":      p.Data,
	}
}

func SendEmailJobPayloadFromMap(data map[string]interface{}) (*SendEmailJobPayload, error) {
	var payload SendEmailJobPayload
	err := remarshal(data, &payload)
	return &payload, err
}

// ArchiveWebhookJobPayload points at a stored webhook event whose raw body should be
// copied to object storage.
type ArchiveWebhookJobPayload struct {
	WebhookEventID uint   `json:"webhook_event_id"`
	Processor      string `json:"processor"`
	EventID        string `json:"event_id"`
}

func (p ArchiveWebhookJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"webhook_event_id": p.WebhookEventID,
		"processor":        p.Processor,
		"event_id":         p.EventID,
	}
}

func ArchiveWebhookJobPayloadFromMap(data map[string]interface{}) (*ArchiveWebhookJobPayload, error) {
	var payload ArchiveWebhookJobPayload
	err := remarshal(data, &payload)
	return &payload, err
}

// remarshal round-trips a stored payload map through JSON into a typed payload.
func remarshal(data map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, out)
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
