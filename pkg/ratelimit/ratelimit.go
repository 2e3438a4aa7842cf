// Package ratelimit provides the adapter's single process-wide rate
// limiter: three independent leaky-bucket scopes (global, per-conversation,
// send-class) that every outbound platform call must clear before it is
// allowed to proceed.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// OperationClass distinguishes the send/edit operations, which additionally
// consume the message-class bucket, from everything else (reactions, pins,
// deletes, history fetches), which only consume the global and
// per-conversation buckets.
type OperationClass int

const (
	// ClassOther covers every operation that is not a send or an edit.
	ClassOther OperationClass = iota
	// ClassMessage covers send_message and edit_message.
	ClassMessage
)

// Limits mirrors config.RateLimitConfig; kept separate so this package has
// no dependency on pkg/config.
type Limits struct {
	GlobalRPM          int
	PerConversationRPM int
	MessageRPM         int
}

// RateLimiter is the process singleton described in spec §4.1. It owns one
// global bucket, one message-class bucket, and a map of per-conversation
// buckets created lazily on first use.
type RateLimiter struct {
	limits Limits

	global  *rate.Limiter
	message *rate.Limiter

	mu           sync.Mutex
	perConv      map[string]*rate.Limiter
}

// New constructs a RateLimiter from the configured per-minute ceilings.
// A zero or negative RPM disables that bucket (unlimited).
func New(limits Limits) *RateLimiter {
	return &RateLimiter{
		limits:  limits,
		global:  newBucket(limits.GlobalRPM),
		message: newBucket(limits.MessageRPM),
		perConv: make(map[string]*rate.Limiter),
	}
}

func newBucket(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	// Burst equal to one minute's worth of tokens, capped so idle buckets
	// don't let a thundering herd through after a long quiet period.
	burst := rpm
	if burst > 60 {
		burst = 60
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

func (r *RateLimiter) conversationBucket(conversationID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.perConv[conversationID]
	if !ok {
		b = newBucket(r.limits.PerConversationRPM)
		r.perConv[conversationID] = b
	}
	return b
}

// LimitRequest blocks until every applicable bucket has a free token, then
// consumes one from each. It never returns an error for rate-limit reasons
// — only ctx cancellation can make it return early, per spec §4.1 and §7
// ("RateLimited (internal) — never surfaces; the limiter blocks").
// rate.Limiter.Wait cancels its reservation without consuming a token when
// ctx is done before the wait would otherwise succeed.
func (r *RateLimiter) LimitRequest(ctx context.Context, class OperationClass, conversationID string) error {
	if err := r.global.Wait(ctx); err != nil {
		return err
	}

	if conversationID != "" {
		if err := r.conversationBucket(conversationID).Wait(ctx); err != nil {
			return err
		}
	}

	if class == ClassMessage {
		if err := r.message.Wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

// DropConversation discards the per-conversation bucket for an id, letting
// the RateLimiter's memory follow the conversation cache's own eviction
// rather than growing unbounded for conversations that have gone cold.
func (r *RateLimiter) DropConversation(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perConv, conversationID)
}
