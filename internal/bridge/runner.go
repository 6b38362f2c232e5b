// internal/bridge/runner.go
package bridge

import (
	"context"
	"time"
)

// Run starts the ticker loop. One goroutine per device. No overlap.
// It returns when ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	// seconds_in_error advances on its own clock, not per cycle.
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	b.logger.Info().Dur("interval", b.interval).Msg("bridge started")
	b.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("bridge stopped")
			return nil
		case <-ticker.C:
			b.Cycle(ctx)
		case <-secTicker.C:
			b.observeStatus(b.status.Tick(b.now()))
		}
	}
}
