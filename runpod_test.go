package runpod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/config"
	"github.com/runpod/worker/internal/history"
	"github.com/runpod/worker/internal/invoker"
	"github.com/runpod/worker/internal/model"
)

func TestBuildOptions_AppliesDefaultsWhenNoneGiven(t *testing.T) {
	o := buildOptions(nil)
	assert.Equal(t, 1, o.worker.InitialConcurrency)
	assert.Greater(t, o.worker.MaxPayloadSize, 0)
	assert.Nil(t, o.history)
	assert.Empty(t, o.checks)
}

func TestBuildOptions_AppliesEachOption(t *testing.T) {
	o := buildOptions([]Option{
		WithInitialConcurrency(5),
		WithMaxPayloadSize(1024),
		WithReturnAggregateStream(true),
		WithRefreshWorkerAfterJob(true),
		WithDebugger(true),
	})

	assert.Equal(t, 5, o.worker.InitialConcurrency)
	assert.Equal(t, 1024, o.worker.MaxPayloadSize)
	assert.True(t, o.worker.ReturnAggregateStream)
	assert.True(t, o.worker.RefreshWorker)
	assert.True(t, o.worker.RPDebugger)
}

func TestBuildOptions_ConcurrencyModifierIsWired(t *testing.T) {
	o := buildOptions([]Option{
		WithConcurrencyModifier(func(current int) int { return current * 2 }),
	})
	require.NotNil(t, o.worker.ConcurrencyModifier)
	assert.Equal(t, 8, o.worker.ConcurrencyModifier(4))
}

func TestBuildOptions_HistorySinkWired(t *testing.T) {
	sink := &history.Sink{}
	o := buildOptions([]Option{WithHistorySink(sink)})
	assert.Same(t, sink, o.history)
}

func TestHistoryOrNil_NilSinkYieldsNilInterface(t *testing.T) {
	iface := historyOrNil(nil)
	assert.Nil(t, iface)
}

func TestHistoryOrNil_NonNilSinkIsPassedThrough(t *testing.T) {
	sink := &history.Sink{}
	iface := historyOrNil(sink)
	assert.NotNil(t, iface)
}

func TestDefaultFitnessChecks_FailsWithoutWebhooks(t *testing.T) {
	checks := defaultFitnessChecks(config.Env{})
	require.Len(t, checks, 1)
	assert.Error(t, checks[0].Run(context.Background()))
}

func TestTestInput_BlockingHandlerSuccess(t *testing.T) {
	handler := invoker.BlockingHandler(func(job model.Job) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	ok, err := TestInput(handler, `{"input":{}}`)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTestInput_RejectsUnsupportedHandlerShape(t *testing.T) {
	_, err := TestInput("not-a-handler", `{}`)
	assert.Error(t, err)
}

func TestWithRefreshWorkerAfterJob_ActuallyTriggersRefresh(t *testing.T) {
	handler := invoker.BlockingHandler(func(job model.Job) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	o := buildOptions([]Option{WithRefreshWorkerAfterJob(true)})
	inv, err := invoker.New(handler, o.worker, invoker.Identity{})
	require.NoError(t, err)

	result := inv.Invoke(context.Background(), model.Job{ID: "1"}, nil)
	assert.True(t, result.RefreshWorker)
}

func TestNewAPIHandler_RunsHandlerAndReturnsJSONResult(t *testing.T) {
	handler := invoker.BlockingHandler(func(job model.Job) (any, error) {
		return map[string]any{"echo": string(job.Input)}, nil
	})
	inv, err := invoker.New(handler, config.WithDefaults(config.WorkerConfig{}), invoker.Identity{})
	require.NoError(t, err)

	srv := httptest.NewServer(newAPIHandler(inv))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/run", "application/json", strings.NewReader(`{"n":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	out := result.Output.(map[string]any)
	assert.Equal(t, `{"n":1}`, out["echo"])
}

func TestNewAPIHandler_HandlerErrorBecomesServerError(t *testing.T) {
	handler := invoker.BlockingHandler(func(job model.Job) (any, error) {
		return map[string]any{"error": "boom"}, nil
	})
	inv, err := invoker.New(handler, config.WithDefaults(config.WorkerConfig{}), invoker.Identity{})
	require.NoError(t, err)

	srv := httptest.NewServer(newAPIHandler(inv))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/run", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
