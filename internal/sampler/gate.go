package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/signal-link/internal/gpio"
)

// WaitForTrigger blocks until line reads high and then low again, polling
// every poll. It is the one-shot arming precondition of the sampling node.
func WaitForTrigger(ctx context.Context, line gpio.Input, poll time.Duration) error {
	if err := waitLevel(ctx, line, true, poll); err != nil {
		return err
	}
	return waitLevel(ctx, line, false, poll)
}

func waitLevel(ctx context.Context, line gpio.Input, want bool, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		v, err := line.Value()
		if err != nil {
			return fmt.Errorf("read trigger: %w", err)
		}
		if v == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
