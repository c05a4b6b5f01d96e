package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent stores verified processor deliveries with deduplication metadata.
// ProcessedAt with an empty ProcessingError means the event was fully applied.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Processor       string         `gorm:"type:varchar(20);not null;index:ux_webhook_events_processor_event,unique,priority:1" json:"processor"`
	EventID         string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_processor_event,unique,priority:2" json:"event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `json:"payload"`
	Attempts        int            `gorm:"not null;default:1" json:"attempts"`
	ProcessedAt     *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	ArchivedAt      *time.Time     `gorm:"type:timestamp;default:null" json:"archived_at,omitempty"`
	ArchiveKey      string         `gorm:"type:varchar(255);default:''" json:"archive_key"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Succeeded reports whether a previous delivery was applied without error.
func (e *WebhookEvent) Succeeded() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}

// WebhookDailyStat aggregates webhook outcomes per processor and day.
type WebhookDailyStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Day       string    `gorm:"type:varchar(10);not null;index:ux_webhook_daily_stats,unique,priority:1" json:"day"`
	Processor string    `gorm:"type:varchar(20);not null;index:ux_webhook_daily_stats,unique,priority:2" json:"processor"`
	Outcome   string    `gorm:"type:varchar(20);not null;index:ux_webhook_daily_stats,unique,priority:3" json:"outcome"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
