package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 4, cfg.CronConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.PairLockTTL)
	assert.Equal(t, "0 * * * *", cfg.CronSchedule)
	assert.Empty(t, cfg.CronSecret)
	assert.False(t, cfg.RedisEnabled())
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("CRON_SECRET", "abc")
	t.Setenv("CRON_CONCURRENCY", "1")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("BACKOFF_INITIAL", "1s")
	t.Setenv("ARCHIVE_S3_PATH_STYLE", "true")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "abc", cfg.CronSecret)
	assert.Equal(t, 1, cfg.CronConcurrency)
	assert.Equal(t, time.Second, cfg.BackoffInitial)
	assert.True(t, cfg.ArchiveS3PathStyle)
	assert.True(t, cfg.RedisEnabled())
}

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CRON_CONCURRENCY":   "0",
		"WORKER_CONCURRENCY": "-1",
		"MAX_ATTEMPTS":       "0",
		"BACKOFF_MAX":        "1ms",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Parse()
			require.Error(t, err)
		})
	}
}

func TestParseRequiresSenderWhenEmailEnabled(t *testing.T) {
	t.Setenv("EMAIL_ENABLED", "true")
	_, err := Parse()
	require.ErrorContains(t, err, "EMAIL_FROM")

	t.Setenv("EMAIL_FROM", "noreply@example.com")
	_, err = Parse()
	require.NoError(t, err)
}
