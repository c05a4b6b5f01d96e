package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayHook/internal/pkg/env"
)

// Config holds the S3 settings for webhook payload archiving.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads the archive configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetBool("WEBHOOK_ARCHIVE_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when webhook archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when webhook archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when webhook archiving is enabled")
		}
	}

	return config, nil
}

// ObjectKey returns where a webhook payload is stored.
// Format: webhooks/<processor>/YYYY/MM/DD/<event id>.json
func ObjectKey(processor, eventID string, receivedAt time.Time) string {
	t := receivedAt.UTC()
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%02d/%s.json", processor, t.Year(), int(t.Month()), t.Day(), eventID)
}
