package storage

import (
	"fmt"

	"github.com/pixelgen/pixelgen/internal/pkg/env"
)

// Config holds the object store connection settings
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	EndpointURL     string // optional, for B2/minio style endpoints
}

// LoadConfigFromEnv reads the object store settings from the environment
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Bucket:          env.GetEnv("S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is not configured")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 credentials are not configured")
	}
	return cfg, nil
}
