package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicJobTypes(t *testing.T) {
	assert.Equal(t, "decrement_stock", string(JobTypeDecrementStock))
	assert.Equal(t, "send_email", string(JobTypeSendEmail))
	assert.Equal(t, "archive_webhook", string(JobTypeArchiveWebhook))
}

func TestBasicJobStatus(t *testing.T) {
	assert.Equal(t, "pending", string(JobStatusPending))
	assert.Equal(t, "processing", string(JobStatusProcessing))
	assert.Equal(t, "completed", string(JobStatusCompleted))
	assert.Equal(t, "failed", string(JobStatusFailed))
	assert.Equal(t, "retrying", string(JobStatusRetrying))
}

func TestJob_BasicMethods(t *testing.T) {
	job := &Job{
		Status:     JobStatusFailed,
		RetryCount: 1,
		MaxRetries: 3,
	}

	assert.True(t, job.IsRetryable())

	job.RetryCount = 3
	assert.False(t, job.IsRetryable())

	beforeTime := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)
	assert.False(t, job.UpdatedAt.Before(beforeTime))

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)

	job.MarkAsFailed("smtp timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "smtp timeout", job.ErrorMsg)
	assert.Equal(t, 4, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
}

// Payloads are stored inside the job JSON, so numbers come back as float64.
func TestPayloads_SurviveJobStorage(t *testing.T) {
	job := Job{
		ID:   "job-1",
		Type: JobTypeSendEmail,
		Payload: SendEmailJobPayload{
			Key:       "stripe:cs_1:email:customer",
			Template:  "order_confirmation",
			Recipient: "jane@example.com",
			Data:      map[string]interface{}{"total_in_cents": 4200},
		}.ToMap(),
	}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))

	email, err := SendEmailJobPayloadFromMap(stored.Payload)
	require.NoError(t, err)
	assert.Equal(t, "order_confirmation", email.Template)
	assert.Equal(t, "jane@example.com", email.Recipient)
	assert.Equal(t, float64(4200), email.Data["total_in_cents"])

	stock, err := DecrementStockJobPayloadFromMap(map[string]interface{}{"variant_id": "var_1", "quantity": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, stock.Quantity)

	archive, err := ArchiveWebhookJobPayloadFromMap(ArchiveWebhookJobPayload{WebhookEventID: 9, Processor: "stripe", EventID: "evt_1"}.ToMap())
	require.NoError(t, err)
	assert.Equal(t, uint(9), archive.WebhookEventID)
	assert.Equal(t, "evt_1", archive.EventID)
}

func TestPayloadFromMap_RejectsWrongTypes(t *testing.T) {
	_, err := DecrementStockJobPayloadFromMap(map[string]interface{}{"quantity": "two"})
	assert.Error(t, err)
}
