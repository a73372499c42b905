package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DEDUP_THRESHOLD", "DEDUP_WINDOW", "DEDUP_ERROR_POLICY", "DEDUP_BATCH_WORKERS", "INGEST_WORKERS", "EMAIL_RETENTION", "RETENTION_INTERVAL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 0.85, cfg.DedupThreshold)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, 50, cfg.DedupCandidateLimit)
	assert.Equal(t, 200, cfg.DedupBodyPrefix)
	assert.Equal(t, "fail-open", cfg.DedupErrorPolicy)
	assert.Equal(t, "first", cfg.DedupMatchStrategy)
	assert.Equal(t, 1, cfg.DedupBatchWorkers)
	assert.Equal(t, 3, cfg.IngestWorkers)
	assert.Zero(t, cfg.EmailRetention)
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEDUP_THRESHOLD", "0.9")
	t.Setenv("DEDUP_WINDOW", "2m")
	t.Setenv("DEDUP_ERROR_POLICY", "retry-n")
	t.Setenv("DEDUP_RETRY_ATTEMPTS", "5")
	t.Setenv("DEDUP_BATCH_WORKERS", "4")
	t.Setenv("EMAIL_RETENTION", "720h")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 0.9, cfg.DedupThreshold)
	assert.Equal(t, 2*time.Minute, cfg.DedupWindow)
	assert.Equal(t, "retry-n", cfg.DedupErrorPolicy)
	assert.Equal(t, 5, cfg.DedupRetryAttempts)
	assert.Equal(t, 4, cfg.DedupBatchWorkers)
	assert.Equal(t, 720*time.Hour, cfg.EmailRetention)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("DEDUP_THRESHOLD", "high")
	t.Setenv("DEDUP_WINDOW", "five minutes")
	t.Setenv("DEDUP_BATCH_WORKERS", "many")

	cfg := Load()

	assert.Equal(t, 0.85, cfg.DedupThreshold)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, 1, cfg.DedupBatchWorkers)
}
