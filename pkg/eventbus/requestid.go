package eventbus

import "github.com/google/uuid"

// newRequestID assigns a fresh UUID to a bot_response on enqueue, per
// spec §4.7.
func newRequestID() string {
	return uuid.NewString()
}
