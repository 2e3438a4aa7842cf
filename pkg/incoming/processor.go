// Package incoming implements spec §4.5's IncomingEventProcessor: a
// static per-platform-event-type handler table that turns raw platform
// events into ConversationManager calls, then applies the history-first
// rule and the loopback filter before emitting normalized bot_request
// events through the EventBus.
package incoming

import (
	"context"
	"log/slog"
	"time"

	"chatbridge/pkg/cache"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/emoji"
	"chatbridge/pkg/eventbus"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

// Handler turns one raw platform event into a ConversationDelta by
// calling the appropriate ConversationManager method. Platform packages
// supply one Handler per RawEvent.Type they emit.
type Handler func(ctx context.Context, deps *Deps, ev platform.RawEvent) (*model.ConversationDelta, error)

// Deps bundles everything a platform Handler needs to build a
// ConversationManager call.
type Deps struct {
	Manager      *conversation.ConversationManager
	Attachments  *cache.AttachmentCache
	Client       platform.Client
	PlatformType string
	Emoji        *emoji.Converter
	Now          func() time.Time
}

// Processor is spec §4.5's IncomingEventProcessor.
type Processor struct {
	deps     *Deps
	handlers map[string]Handler
	bus      *eventbus.EventBus
	history  *HistoryFetcher

	filterOwnReactions bool
	selfUserID         string
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithReactionLoopbackFilter enables dropping reaction_added/removed
// events whose actor is the adapter's own platform identity (spec §9's
// default-on loopback filter open question).
func WithReactionLoopbackFilter(filterOwn bool, selfUserID string) Option {
	return func(p *Processor) {
		p.filterOwnReactions = filterOwn
		p.selfUserID = selfUserID
	}
}

// New constructs a Processor. handlers is the static event-type table
// (spec §4.5); history may be nil if history-first can never trigger
// (not expected in practice, but avoids a nil-pointer surprise).
func New(deps *Deps, handlers map[string]Handler, bus *eventbus.EventBus, history *HistoryFetcher, opts ...Option) *Processor {
	p := &Processor{deps: deps, handlers: handlers, bus: bus, history: history}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes client.StreamEvents() until the channel closes (the
// client disconnected) or ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	events := p.deps.Client.StreamEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.HandleOne(ctx, ev)
		}
	}
}

// HandleOne dispatches a single raw platform event end to end: handler
// lookup, manager call, history-first sequencing, loopback filter,
// emission.
func (p *Processor) HandleOne(ctx context.Context, ev platform.RawEvent) {
	handler, ok := p.handlers[ev.Type]
	if !ok {
		slog.Debug("no incoming handler registered for platform event type", "type", ev.Type)
		return
	}

	delta, err := handler(ctx, p.deps, ev)
	if err != nil {
		slog.Error("incoming event handler failed", "type", ev.Type, "error", err)
		return
	}
	if delta.IsEmpty() {
		return // P1: redelivery of an already-known id collapses to silence
	}

	if delta.ConversationStarted {
		p.emitConversationStarted(ctx, delta)
	}
	p.emitRest(delta)
}

func (p *Processor) emitConversationStarted(ctx context.Context, delta *model.ConversationDelta) {
	conv, ok := p.deps.Manager.ConversationByID(delta.ConversationID)
	if !ok {
		return
	}

	var history []*model.CachedMessage
	if delta.FetchHistoryNeeded && p.history != nil {
		now := p.deps.Now().UnixMilli()
		hist, err := p.history.Fetch(ctx, p.deps.Client, p.deps.PlatformType, conv.PlatformConversationID, conv.ConversationID, 50, &now, nil)
		if err != nil {
			slog.Warn("history-first fetch failed", "conversation_id", conv.ConversationID, "error", err)
		} else {
			history = hist
		}
	}

	p.bus.EmitBotRequest("conversation_started", p.conversationStartedPayload(conv, history))
	p.deps.Manager.ClearJustStarted(conv.ConversationID)
}

// emitRest emits every non-conversation_started entry of delta, in the
// field order spec §4.5 documents, applying the loopback filter (spec
// §7) to anything whose subject message is framework-originated.
func (p *Processor) emitRest(delta *model.ConversationDelta) {
	for _, msg := range delta.AddedMessages {
		if msg.Origin == model.OriginFramework {
			continue
		}
		p.bus.EmitBotRequest("message_received", p.messagePayload(msg, true))
	}
	for _, e := range delta.EditedMessages {
		if e.Origin == model.OriginFramework {
			continue
		}
		p.bus.EmitBotRequest("message_updated", map[string]any{
			"conversation_id": delta.ConversationID,
			"message_id":      e.MessageID,
			"new_text":        e.NewText,
		})
	}
	for _, d := range delta.DeletedMessages {
		if d.Origin == model.OriginFramework {
			continue
		}
		p.bus.EmitBotRequest("message_deleted", map[string]any{
			"conversation_id": delta.ConversationID,
			"message_id":      d.MessageID,
		})
	}
	for _, r := range delta.AddedReactions {
		if p.skipReaction(r) {
			continue
		}
		p.bus.EmitBotRequest("reaction_added", reactionPayload(delta.ConversationID, r))
	}
	for _, r := range delta.RemovedReactions {
		if p.skipReaction(r) {
			continue
		}
		p.bus.EmitBotRequest("reaction_removed", reactionPayload(delta.ConversationID, r))
	}
	for _, id := range delta.Pins {
		if m, ok := p.deps.Manager.Messages.Get(delta.ConversationID, id); ok && m.Origin == model.OriginFramework {
			continue
		}
		p.bus.EmitBotRequest("message_pinned", map[string]any{
			"conversation_id": delta.ConversationID,
			"message_id":      id,
		})
	}
	for _, id := range delta.Unpins {
		if m, ok := p.deps.Manager.Messages.Get(delta.ConversationID, id); ok && m.Origin == model.OriginFramework {
			continue
		}
		p.bus.EmitBotRequest("message_unpinned", map[string]any{
			"conversation_id": delta.ConversationID,
			"message_id":      id,
		})
	}
}

// skipReaction applies both loopback rules: the message the reaction is
// on was framework-authored, or the reacting user is the adapter itself
// and filter_own_reactions is enabled.
func (p *Processor) skipReaction(r model.ReactionChange) bool {
	if r.Origin == model.OriginFramework {
		return true
	}
	if p.filterOwnReactions && p.selfUserID != "" && r.UserID == p.selfUserID {
		return true
	}
	return false
}

func reactionPayload(conversationID string, r model.ReactionChange) map[string]any {
	return map[string]any{
		"conversation_id": conversationID,
		"message_id":      r.MessageID,
		"emoji":           r.Emoji,
		"user_id":         r.UserID,
	}
}
