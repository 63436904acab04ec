package rlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/rlog"
)

func TestParseLevel_MapsKnownVocabulary(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, rlog.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, rlog.ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, rlog.ParseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, rlog.ParseLevel("INFO"))
	assert.Equal(t, slog.LevelInfo, rlog.ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, rlog.ParseLevel("nonsense"))
}

func TestContextHandler_InjectsJobAttributesFromWithJob(t *testing.T) {
	var buf bytes.Buffer
	handler := rlog.NewContextHandler(slog.NewJSONHandler(&buf, nil))
	log := slog.New(handler)

	ctx := rlog.WithJob(context.Background(), "job-1", "worker-1")
	log.InfoContext(ctx, "processing")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "job-1", record["job_id"])
	assert.Equal(t, "worker-1", record["worker_id"])
}

func TestContextHandler_OmitsWorkerIDWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	handler := rlog.NewContextHandler(slog.NewJSONHandler(&buf, nil))
	log := slog.New(handler)

	ctx := rlog.WithJob(context.Background(), "job-1", "")
	log.InfoContext(ctx, "processing")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "job-1", record["job_id"])
	assert.NotContains(t, record, "worker_id")
}

func TestContextHandler_NoAttributesWithoutWithJob(t *testing.T) {
	var buf bytes.Buffer
	handler := rlog.NewContextHandler(slog.NewJSONHandler(&buf, nil))
	log := slog.New(handler)

	log.InfoContext(context.Background(), "processing")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "job_id")
}

func TestNew_ReturnsWorkingLogger(t *testing.T) {
	log := rlog.New("DEBUG")
	require.NotNil(t, log)
	assert.True(t, log.Enabled(context.Background(), slog.LevelDebug))
}
