package telegram

import (
	"context"

	"chatbridge/pkg/platform"
)

// FetchHistory is unsupported on Telegram: the Bot API gives bots no way
// to query a chat's message history, only a forward-moving update
// stream. This is the same kind of stable per-platform contract gap the
// design calls out for pin/unpin on Zulip and webhook Discord. The
// HistoryFetcher still answers from MessageCache when the cache alone
// covers the requested limit; otherwise it returns this error.
func (c *Client) FetchHistory(ctx context.Context, conversationID string, limit int, before, after *int64) ([]platform.RawMessage, error) {
	return nil, platform.NewPermanentError("fetch_history", platform.ErrUnsupported)
}
