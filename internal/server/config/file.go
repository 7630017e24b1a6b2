package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/certkeeper/internal/flagx"
	"github.com/dmitrijs2005/certkeeper/internal/timex"
)

// FileConfig mirrors Config for file decoding. Durations accept "90s"
// strings or integer nanoseconds. Zero values leave defaults untouched;
// verify_rate_limit is a pointer so that an explicit 0 disables limiting.
type FileConfig struct {
	HTTPAddr              string         `json:"http_addr" yaml:"http_addr" toml:"http_addr"`
	GRPCAddr              string         `json:"grpc_addr" yaml:"grpc_addr" toml:"grpc_addr"`
	StorageBackend        string         `json:"storage_backend" yaml:"storage_backend" toml:"storage_backend"`
	DatabaseDSN           string         `json:"database_dsn" yaml:"database_dsn" toml:"database_dsn"`
	SecretKey             string         `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	PublicBaseURL         string         `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url"`
	ArtifactBackend       string         `json:"artifact_backend" yaml:"artifact_backend" toml:"artifact_backend"`
	ArtifactQueueSize     int            `json:"artifact_queue_size" yaml:"artifact_queue_size" toml:"artifact_queue_size"`
	ArtifactPublicBaseURL string         `json:"artifact_public_base_url" yaml:"artifact_public_base_url" toml:"artifact_public_base_url"`
	S3RootUser            string         `json:"s3_root_user" yaml:"s3_root_user" toml:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password" yaml:"s3_root_password" toml:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket" yaml:"s3_bucket" toml:"s3_bucket"`
	S3Region              string         `json:"s3_region" yaml:"s3_region" toml:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint" toml:"s3_base_endpoint"`
	GCSBucket             string         `json:"gcs_bucket" yaml:"gcs_bucket" toml:"gcs_bucket"`
	GCSCredentialsFile    string         `json:"gcs_credentials_file" yaml:"gcs_credentials_file" toml:"gcs_credentials_file"`
	LogFormat             string         `json:"log_format" yaml:"log_format" toml:"log_format"`
	LogLevel              string         `json:"log_level" yaml:"log_level" toml:"log_level"`
	RedisAddr             string         `json:"redis_addr" yaml:"redis_addr" toml:"redis_addr"`
	VerifyRateLimit       *int           `json:"verify_rate_limit" yaml:"verify_rate_limit" toml:"verify_rate_limit"`
	VerifyRateWindow      timex.Duration `json:"verify_rate_window" yaml:"verify_rate_window" toml:"verify_rate_window"`
	AuditWebhookURL       string         `json:"audit_webhook_url" yaml:"audit_webhook_url" toml:"audit_webhook_url"`
	AuditWebhookQueue     int            `json:"audit_webhook_queue" yaml:"audit_webhook_queue" toml:"audit_webhook_queue"`
	OTLPEndpoint          string         `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	TraceStdout           bool           `json:"trace_stdout" yaml:"trace_stdout" toml:"trace_stdout"`
	ShutdownTimeout       timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// parseFile reads the file named by -c/-config and overlays its non-zero
// values on config. The format is chosen by extension.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	case ".toml":
		_, err = toml.Decode(string(data), fc)
	default:
		return fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.GRPCAddr, fc.GRPCAddr)
	setString(&c.StorageBackend, fc.StorageBackend)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.PublicBaseURL, fc.PublicBaseURL)
	setString(&c.ArtifactBackend, fc.ArtifactBackend)
	setString(&c.ArtifactPublicBaseURL, fc.ArtifactPublicBaseURL)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.GCSBucket, fc.GCSBucket)
	setString(&c.GCSCredentialsFile, fc.GCSCredentialsFile)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.AuditWebhookURL, fc.AuditWebhookURL)
	setString(&c.OTLPEndpoint, fc.OTLPEndpoint)

	if fc.VerifyRateWindow.Duration > 0 {
		c.VerifyRateWindow = fc.VerifyRateWindow.Duration
	}
	if fc.ShutdownTimeout.Duration > 0 {
		c.ShutdownTimeout = fc.ShutdownTimeout.Duration
	}
	if fc.ArtifactQueueSize > 0 {
		c.ArtifactQueueSize = fc.ArtifactQueueSize
	}
	if fc.VerifyRateLimit != nil {
		c.VerifyRateLimit = *fc.VerifyRateLimit
	}
	if fc.AuditWebhookQueue > 0 {
		c.AuditWebhookQueue = fc.AuditWebhookQueue
	}
	if fc.TraceStdout {
		c.TraceStdout = true
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
