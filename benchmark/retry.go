package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Octogonapus/RPMABench/target"
)

// ErrServerNotReady marks a client failure caused by the remote server not listening yet.
var ErrServerNotReady = errors.New("server is not listening yet")

// RetryClient calls fn until it succeeds, up to attempts times, sleeping backoff between attempts. Only failures
// wrapping ErrServerNotReady are retried. When the attempts run out the last failure is returned as a remote
// execution error.
func RetryClient(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrServerNotReady) {
			return err
		}
		if i == attempts-1 {
			break
		}
		slog.Debug("server is not ready, will try again", slog.Int("attempt", i+1), slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: client gave up after %d attempts: %w", target.ErrRemoteExecution, attempts, err)
}
