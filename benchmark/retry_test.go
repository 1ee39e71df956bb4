package benchmark

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Octogonapus/RPMABench/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryClientSucceedsOnThirdAttempt(t *testing.T) {
	attempts := 0
	err := RetryClient(context.Background(), 5, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("Couldn't connect to 10.0.0.2: %w", ErrServerNotReady)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryClientGivesUp(t *testing.T) {
	attempts := 0
	err := RetryClient(context.Background(), 4, time.Millisecond, func() error {
		attempts++
		return ErrServerNotReady
	})
	require.ErrorIs(t, err, target.ErrRemoteExecution)
	assert.ErrorIs(t, err, ErrServerNotReady)
	assert.Equal(t, 4, attempts)
}

func TestRetryClientDoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := RetryClient(context.Background(), 4, time.Millisecond, func() error {
		attempts++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryClientStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	err := RetryClient(ctx, 4, time.Hour, func() error {
		attempts++
		return ErrServerNotReady
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
