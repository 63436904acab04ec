package heartbeat_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/heartbeat"
	"github.com/runpod/worker/internal/registry"
)

type fakePinger struct {
	calls   int64
	lastIDs []string
	err     error
}

func (f *fakePinger) Ping(ctx context.Context, jobIDs []string, retry bool, interval time.Duration) error {
	atomic.AddInt64(&f.calls, 1)
	f.lastIDs = jobIDs
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_PingsPeriodicallyWithRegistrySnapshot(t *testing.T) {
	reg := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Add("job-1"))

	pinger := &fakePinger{}
	hb := heartbeat.New(reg, pinger, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	hb.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&pinger.calls), int64(2))
	assert.Equal(t, []string{"job-1"}, pinger.lastIDs)
}

func TestRun_StopsWhenContextCancelled(t *testing.T) {
	reg := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	pinger := &fakePinger{}
	hb := heartbeat.New(reg, pinger, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRun_ContinuesAfterPingFailure(t *testing.T) {
	reg := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	pinger := &fakePinger{err: errors.New("network down")}
	hb := heartbeat.New(reg, pinger, 10*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	hb.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&pinger.calls), int64(2))
}
