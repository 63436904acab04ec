package registry_test

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	return registry.Open(filepath.Join(dir, "registry.json"))
}

func TestAddAndSnapshot(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add("job-1"))
	require.NoError(t, r.Add("job-2"))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, snap)
}

func TestAdd_Idempotent(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add("job-1"))
	require.NoError(t, r.Add("job-1"))

	count, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRemove_Idempotent(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add("job-1"))
	require.NoError(t, r.Remove("job-1"))
	require.NoError(t, r.Remove("job-1"))

	count, err := r.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestContains_TrueOnlyForTrackedID(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add("job-1"))

	found, err := r.Contains("job-1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.Contains("job-2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestContains_FalseAfterRemove(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.Add("job-1"))
	require.NoError(t, r.Remove("job-1"))

	found, err := r.Contains("job-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSnapshot_EmptyWhenFileMissing(t *testing.T) {
	r := newRegistry(t)
	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestConcurrentAdds_AllSurvive(t *testing.T) {
	r := newRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(idFor(i))
		}(i)
	}
	wg.Wait()

	count, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func idFor(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return "job-" + string(alphabet[i%len(alphabet)]) + string(rune('0'+i))
}
