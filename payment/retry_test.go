package payment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/settlement-engine/payment"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := payment.Retry(context.Background(), []time.Duration{time.Millisecond}, isTransient, func(int) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetriesOnlyRetryableErrors(t *testing.T) {
	// GIVEN: A function failing with a non-retryable error
	// WHEN: Retry runs with delays available
	// THEN: It stops after one call

	calls := 0
	err := payment.Retry(context.Background(), []time.Duration{time.Millisecond}, isTransient, func(int) error {
		calls++
		return errFatal
	})
	assert.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, calls)
}

func TestRetry_ExhaustsDelays(t *testing.T) {
	// GIVEN: A function that always fails retryably
	// WHEN: Retry runs with three delays
	// THEN: It runs four times and returns the last error

	calls := 0
	delays := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	err := payment.Retry(context.Background(), delays, isTransient, func(int) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
}

func TestRetry_RecoveryMidway(t *testing.T) {
	calls := 0
	delays := []time.Duration{time.Millisecond, time.Millisecond}
	err := payment.Retry(context.Background(), delays, isTransient, func(int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_HonorsCancellation(t *testing.T) {
	// GIVEN: A cancelled context
	// WHEN: Retry waits between tries
	// THEN: It stops instead of sleeping out the backoff

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := payment.Retry(ctx, []time.Duration{time.Hour}, isTransient, func(int) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
