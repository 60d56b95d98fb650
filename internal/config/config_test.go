package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"S3_UPLOAD_BUCKET_NAME", "DYNAMODB_NAME", "PARQUET_QUEUE_URL",
		"AWS_REGION", "LLM_MODEL", "OPENAI_API_KEY", "CONVERT_CHUNK_BYTES",
		"CONVERT_MAX_BAD_ROWS", "CONVERT_BAD_ROW_POLICY",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestDefaultsAreStrict(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	require.NoError(t, Normalize(c))
	assert.Equal(t, PolicyStrict, c.BadRowPolicy)
	assert.Equal(t, 0, c.MaxBadRows)
	assert.EqualValues(t, defaultChunkBytes, c.ChunkBytes)
}

func TestValidateRequiresCoreFields(t *testing.T) {
	clearEnv(t)
	c := FromEnv()
	require.NoError(t, Normalize(c))
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_UPLOAD_BUCKET_NAME")
}

func TestValidatePasses(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_UPLOAD_BUCKET_NAME", "bucket")
	t.Setenv("DYNAMODB_NAME", "table")
	t.Setenv("PARQUET_QUEUE_URL", "https://sqs.example/q")
	t.Setenv("AWS_REGION", "us-east-1")

	c := FromEnv()
	require.NoError(t, Normalize(c))
	assert.NoError(t, Validate(c))
}

func TestChunkBytesHumanOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERT_CHUNK_BYTES", "256MiB")
	c := FromEnv()
	require.NoError(t, Normalize(c))
	assert.EqualValues(t, 256*1024*1024, c.ChunkBytes)
}

func TestCoerceNullPolicyFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERT_BAD_ROW_POLICY", "coerce-null")
	t.Setenv("CONVERT_MAX_BAD_ROWS", "5")
	c := FromEnv()
	require.NoError(t, Normalize(c))
	assert.Equal(t, PolicyCoerceNull, c.BadRowPolicy)
	assert.Equal(t, 5, c.MaxBadRows)
}

func TestInvalidPolicyRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_UPLOAD_BUCKET_NAME", "bucket")
	t.Setenv("DYNAMODB_NAME", "table")
	t.Setenv("PARQUET_QUEUE_URL", "https://sqs.example/q")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("CONVERT_BAD_ROW_POLICY", "nonsense")

	c := FromEnv()
	require.NoError(t, Normalize(c))
	err := Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad row policy")
}
