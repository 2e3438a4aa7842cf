package eventbus

import (
	"context"
	"fmt"
	"time"
)

// FatalError signals that the connection monitor exhausted
// max_reconnect_attempts and the adapter process must terminate (spec
// §7's Fatal taxonomy entry).
type FatalError struct {
	Attempts int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("platform connection lost after %d reconnect attempts, terminating", e.Attempts)
}

// MonitorConnection runs the periodic is_alive check spec §4.7
// describes: every interval, emit connect if the platform client
// reports alive, otherwise count a failure; maxAttempts consecutive
// failures emits disconnect and returns a FatalError for the adapter to
// escalate. A successful check resets the failure count.
func (b *EventBus) MonitorConnection(ctx context.Context, isAlive func() bool, interval time.Duration, maxAttempts int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if isAlive() {
				failures = 0
				b.EmitConnect()
				continue
			}
			failures++
			if maxAttempts > 0 && failures >= maxAttempts {
				b.EmitDisconnect()
				return &FatalError{Attempts: failures}
			}
		}
	}
}
