package incoming

import (
	"context"
	"fmt"
	"time"

	"chatbridge/pkg/conversation"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

// HistoryFetcher implements spec §4.5's two-tier history lookup: serve
// from the MessageCache when the requested window is already fully
// covered, otherwise page through platform.Client.FetchHistory and
// (optionally) warm the cache with what came back.
type HistoryFetcher struct {
	Manager                 *conversation.ConversationManager
	MaxPaginationIterations int
	CacheFetchedHistory     bool
}

// NewHistoryFetcher builds a HistoryFetcher bounded to maxIterations
// pagination round-trips per call (0 picks the spec default of 10).
func NewHistoryFetcher(manager *conversation.ConversationManager, maxIterations int, cacheFetched bool) *HistoryFetcher {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	return &HistoryFetcher{Manager: manager, MaxPaginationIterations: maxIterations, CacheFetchedHistory: cacheFetched}
}

// Fetch returns up to limit messages for a conversation. At least one of
// before/after must be set; a call with neither is rejected before any
// cache lookup or platform call. When both are set, pagination advances
// the before bound.
func (h *HistoryFetcher) Fetch(ctx context.Context, client platform.Client, platformType, platformConversationID, conversationID string, limit int, before, after *int64) ([]*model.CachedMessage, error) {
	if before == nil && after == nil {
		return nil, fmt.Errorf("fetch_history requires before or after")
	}
	if limit <= 0 {
		limit = 50
	}

	cached := h.Manager.Messages.Snapshot(conversationID)
	window := filterWindow(cached, limit, before, after)
	if len(window) >= limit {
		return window, nil
	}

	raw, err := h.paginate(ctx, client, platformConversationID, limit, before, after)
	if err != nil {
		return nil, err
	}

	out := make([]*model.CachedMessage, 0, len(raw))
	for _, rm := range raw {
		msg, err := h.Manager.Builder.Build(ctx, conversation.NewMessageCtx{
			PlatformType:           platformType,
			PlatformConversationID: platformConversationID,
			Client:                 client,
			Message:                conversation.FromRawMessage(rm),
			Now:                    time.UnixMilli(rm.TimestampMs),
		}, conversationID, model.OriginPlatform)
		if err != nil {
			continue // a single unresolvable history entry should not fail the whole page
		}
		if h.CacheFetchedHistory {
			h.Manager.Messages.Insert(msg)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (h *HistoryFetcher) paginate(ctx context.Context, client platform.Client, platformConversationID string, limit int, before, after *int64) ([]platform.RawMessage, error) {
	var out []platform.RawMessage
	curBefore, curAfter := before, after

	for i := 0; i < h.MaxPaginationIterations && len(out) < limit; i++ {
		page, err := client.FetchHistory(ctx, platformConversationID, limit-len(out), curBefore, curAfter)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)

		oldest, newest := page[0].TimestampMs, page[0].TimestampMs
		for _, m := range page {
			if m.TimestampMs < oldest {
				oldest = m.TimestampMs
			}
			if m.TimestampMs > newest {
				newest = m.TimestampMs
			}
		}
		if curBefore != nil {
			curBefore = &oldest
		} else {
			curAfter = &newest
		}
	}
	return out, nil
}

// filterWindow returns the subset of msgs within the before/after bound,
// trimmed to at most limit entries, oldest first.
func filterWindow(msgs []*model.CachedMessage, limit int, before, after *int64) []*model.CachedMessage {
	var out []*model.CachedMessage
	for _, m := range msgs {
		if before != nil && m.TimestampMs >= *before {
			continue
		}
		if after != nil && m.TimestampMs <= *after {
			continue
		}
		out = append(out, m)
	}
	if before != nil && len(out) > limit {
		out = out[len(out)-limit:]
	} else if after != nil && len(out) > limit {
		out = out[:limit]
	}
	return out
}
