// Package config loads the worker configuration from environment
// variables, optionally layered under a TOML override file, and
// normalizes/validates it the way the data-writer config package does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"
	"github.com/pingcap/errors"
)

// BadRowPolicy controls what C3 does when a non-empty field fails
// coercion against its declared logical type.
type BadRowPolicy string

const (
	PolicyStrict      BadRowPolicy = "strict"
	PolicyCoerceNull  BadRowPolicy = "coerce-null"
	defaultChunkBytes              = 512 * units.MiB
	defaultMaxRows                 = 3_500_000
	defaultMaxBatchBytes           = 1800 * units.MiB
	defaultChannelCap              = 8
	defaultInternPoolSize           = 50_000
	defaultMaxRecordBytes           = 16 * units.MiB
	defaultQueryTimeoutSeconds      = 30
	defaultMaxRowsOut               = 10_000
	defaultRenderRowCap             = 200
	defaultSQLRetry                 = 2
	defaultVisibilityTimeoutSeconds = 500
)

// Config is the full set of values every worker needs. Fields are
// populated from environment variables first, then an optional TOML
// file overrides any value the file sets explicitly.
type Config struct {
	S3UploadBucketName string `toml:"s3_upload_bucket_name"`
	DynamoDBName        string `toml:"dynamodb_name"`
	ParquetQueueURL     string `toml:"parquet_queue_url"`
	AWSRegion           string `toml:"aws_region"`

	LLMModel    string `toml:"llm_model"`
	OpenAIKey   string `toml:"-"` // never written to disk

	ChunkBytes     int64 `toml:"chunk_bytes"`
	ChunkBytesHuman string `toml:"chunk_size"`

	MaxRows            int   `toml:"max_rows"`
	MaxBatchBytes      int64 `toml:"max_batch_bytes"`
	ChannelCap         int   `toml:"channel_cap"`
	InternPoolSize     int   `toml:"intern_pool_size"`
	MaxRecordBytes     int64 `toml:"max_record_bytes"`

	MaxBadRows int          `toml:"max_bad_rows"`
	BadRowPolicy BadRowPolicy `toml:"bad_row_policy"`

	QueryTimeoutSeconds int `toml:"query_timeout_seconds"`
	MaxRowsOut          int `toml:"max_rows_out"`
	RenderRowCap        int `toml:"render_row_cap"`
	SQLRetry            int `toml:"sql_retry"`

	VisibilityTimeoutSeconds int32 `toml:"visibility_timeout_seconds"`
}

// FromEnv builds a Config from environment variables and applies
// defaults for everything the environment leaves unset.
func FromEnv() *Config {
	c := &Config{
		S3UploadBucketName: os.Getenv("S3_UPLOAD_BUCKET_NAME"),
		DynamoDBName:       os.Getenv("DYNAMODB_NAME"),
		ParquetQueueURL:    os.Getenv("PARQUET_QUEUE_URL"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		LLMModel:           os.Getenv("LLM_MODEL"),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),

		ChunkBytes:   defaultChunkBytes,
		MaxRows:      defaultMaxRows,
		MaxBatchBytes: defaultMaxBatchBytes,
		ChannelCap:   defaultChannelCap,
		InternPoolSize: defaultInternPoolSize,
		MaxRecordBytes: defaultMaxRecordBytes,

		MaxBadRows:   0,
		BadRowPolicy: PolicyStrict,

		QueryTimeoutSeconds: defaultQueryTimeoutSeconds,
		MaxRowsOut:          defaultMaxRowsOut,
		RenderRowCap:        defaultRenderRowCap,
		SQLRetry:            defaultSQLRetry,

		VisibilityTimeoutSeconds: defaultVisibilityTimeoutSeconds,
	}

	if v := os.Getenv("CONVERT_CHUNK_BYTES"); v != "" {
		c.ChunkBytesHuman = v
	}
	if v := os.Getenv("CONVERT_MAX_BAD_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxBadRows = n
		}
	}
	if v := os.Getenv("CONVERT_BAD_ROW_POLICY"); v != "" {
		c.BadRowPolicy = BadRowPolicy(v)
	}

	return c
}

// LoadOverride layers a TOML file's fields on top of c, for keys the
// file sets explicitly (BurntSushi/toml's zero-value default means an
// absent key is simply not touched).
func LoadOverride(c *Config, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return errors.Trace(err)
	}
	return nil
}

// Normalize resolves derived fields (human-readable sizes) and applies
// human-size overrides onto their machine-readable counterparts.
func Normalize(c *Config) error {
	if c.ChunkBytesHuman != "" {
		n, err := units.RAMInBytes(c.ChunkBytesHuman)
		if err != nil {
			return errors.Errorf("invalid chunk size %q: %v", c.ChunkBytesHuman, err)
		}
		c.ChunkBytes = n
	}
	if c.BadRowPolicy == "" {
		c.BadRowPolicy = PolicyStrict
	}
	return nil
}

// Validate returns a descriptive error collecting every missing or
// out-of-range field in one message.
func Validate(c *Config) error {
	var errs []string

	if c.S3UploadBucketName == "" {
		errs = append(errs, "S3_UPLOAD_BUCKET_NAME is required")
	}
	if c.DynamoDBName == "" {
		errs = append(errs, "DYNAMODB_NAME is required")
	}
	if c.ParquetQueueURL == "" {
		errs = append(errs, "PARQUET_QUEUE_URL is required")
	}
	if c.AWSRegion == "" {
		errs = append(errs, "AWS_REGION is required")
	}
	if c.ChunkBytes <= 0 {
		errs = append(errs, "chunk size must be greater than 0")
	}
	if c.MaxRows <= 0 {
		errs = append(errs, "max rows per batch must be greater than 0")
	}
	if c.MaxBatchBytes <= 0 {
		errs = append(errs, "max batch bytes must be greater than 0")
	}
	if c.ChannelCap <= 0 {
		errs = append(errs, "channel capacity must be greater than 0")
	}
	if c.MaxBadRows < 0 {
		errs = append(errs, "max bad rows must be >= 0")
	}
	switch c.BadRowPolicy {
	case PolicyStrict, PolicyCoerceNull:
	default:
		errs = append(errs, fmt.Sprintf("bad row policy must be %q or %q, got %q", PolicyStrict, PolicyCoerceNull, c.BadRowPolicy))
	}

	if len(errs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("invalid config:\n")
	for _, e := range errs {
		sb.WriteString(" - ")
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	return errors.New(strings.TrimRight(sb.String(), "\n"))
}

// Load is the convenience entrypoint cmd/* uses: env defaults, optional
// TOML override, normalize, validate.
func Load(overridePath string) (*Config, error) {
	c := FromEnv()
	if err := LoadOverride(c, overridePath); err != nil {
		return nil, err
	}
	if err := Normalize(c); err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}
