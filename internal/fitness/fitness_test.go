package fitness_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runpod/worker/internal/fitness"
	"github.com/runpod/worker/internal/rerror"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunAll_SkippedInLocalTestMode(t *testing.T) {
	ran := false
	checks := []fitness.Check{{Name: "never", Run: func(ctx context.Context) error {
		ran = true
		return nil
	}}}
	err := fitness.RunAll(context.Background(), checks, true, discardLogger())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	var order []string
	checks := []fitness.Check{
		{Name: "one", Run: func(ctx context.Context) error {
			order = append(order, "one")
			return errors.New("gpu missing")
		}},
		{Name: "two", Run: func(ctx context.Context) error {
			order = append(order, "two")
			return nil
		}},
	}

	err := fitness.RunAll(context.Background(), checks, false, discardLogger())
	require.Error(t, err)
	assert.Equal(t, []string{"one"}, order)

	var fitnessErr *rerror.FitnessCheckError
	assert.ErrorAs(t, err, &fitnessErr)
	assert.Equal(t, "one", fitnessErr.Name)
}

func TestRunAll_AllPass(t *testing.T) {
	checks := []fitness.Check{
		{Name: "one", Run: func(ctx context.Context) error { return nil }},
		{Name: "two", Run: func(ctx context.Context) error { return nil }},
	}
	err := fitness.RunAll(context.Background(), checks, false, discardLogger())
	assert.NoError(t, err)
}
