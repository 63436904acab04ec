package rerror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runpod/worker/internal/rerror"
)

func TestTransientTransportError_Unwraps(t *testing.T) {
	inner := errors.New("connection reset")
	wrapped := &rerror.TransientTransportError{Op: "acquire", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "acquire")
}

func TestResultDeliveryError_Unwraps(t *testing.T) {
	inner := errors.New("timeout")
	wrapped := &rerror.ResultDeliveryError{JobID: "job-1", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "job-1")
}

func TestSentinelsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(rerror.ErrNoJobs, rerror.ErrRateLimited))
	assert.False(t, errors.Is(rerror.ErrShutdown, rerror.ErrNoJobs))
}

func TestFitnessCheckError(t *testing.T) {
	inner := errors.New("gpu not found")
	wrapped := &rerror.FitnessCheckError{Name: "gpu", Err: inner}
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "gpu")
}
