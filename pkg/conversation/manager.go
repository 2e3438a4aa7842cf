package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatbridge/pkg/cache"
	"chatbridge/pkg/ids"
	"chatbridge/pkg/model"
)

// ConversationManager is the authoritative in-memory state of
// conversations, threads and their messages (spec §4.4). It owns the
// write path into all three caches; the one other writer is
// incoming.HistoryFetcher, which inserts fetched history into the
// MessageCache when cache_fetched_history is set. Conversations are looked up by platform_conversation_id
// since that is the only key an incoming platform event carries — the
// adapter-assigned conversation_id only exists once a ConversationInfo
// has been created.
type ConversationManager struct {
	locks *stripedLock

	convByPlatformID map[string]*model.ConversationInfo

	// idMu guards convByID, the reverse index from adapter-assigned
	// conversation_id to the same ConversationInfo pointer. Framework
	// requests (pkg/outgoing) carry conversation_id, never
	// platform_conversation_id, so this index exists purely to let them
	// resolve back to the platform-keyed record without knowing the
	// platform id up front.
	idMu     sync.RWMutex
	convByID map[string]*model.ConversationInfo

	Users       *cache.UserCache
	Messages    *cache.MessageCache
	Attachments *cache.AttachmentCache

	Threads ThreadHandler
	Builder MessageBuilder
}

// Option configures a ConversationManager at construction.
type Option func(*ConversationManager)

// WithThreadHandler overrides the default ThreadHandler.
func WithThreadHandler(h ThreadHandler) Option {
	return func(m *ConversationManager) { m.Threads = h }
}

// New constructs a ConversationManager with the given backing caches and
// a MessageBuilder (platform-specific attachment resolution lives
// there). stripes controls the striped-lock pool size; 0 picks a
// reasonable default.
func New(users *cache.UserCache, messages *cache.MessageCache, atts *cache.AttachmentCache, builder MessageBuilder, stripes int, opts ...Option) *ConversationManager {
	if stripes <= 0 {
		stripes = 64
	}
	m := &ConversationManager{
		locks:            newStripedLock(stripes),
		convByPlatformID: make(map[string]*model.ConversationInfo),
		convByID:         make(map[string]*model.ConversationInfo),
		Users:            users,
		Messages:         messages,
		Attachments:      atts,
		Threads:          DefaultThreadHandler{},
		Builder:          builder,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConversationByPlatformID returns a snapshot of the conversation
// registered under a platform-native id, if any, read under that id's
// stripe lock so it never observes a half-applied write.
func (m *ConversationManager) ConversationByPlatformID(platformConversationID string) (model.ConversationInfo, bool) {
	unlock := m.locks.Lock(platformConversationID)
	defer unlock()
	conv, ok := m.convByPlatformID[platformConversationID]
	if !ok {
		return model.ConversationInfo{}, false
	}
	return *conv, true
}

// ConversationByID returns a snapshot of the conversation registered
// under its adapter-assigned conversation_id, if any. This is the
// lookup pkg/outgoing uses to resolve a framework request back to the
// platform it must be dispatched to.
func (m *ConversationManager) ConversationByID(conversationID string) (model.ConversationInfo, bool) {
	m.idMu.RLock()
	conv, ok := m.convByID[conversationID]
	m.idMu.RUnlock()
	if !ok {
		return model.ConversationInfo{}, false
	}
	unlock := m.locks.Lock(conv.PlatformConversationID)
	defer unlock()
	return *conv, true
}

// ClearJustStarted flips a conversation's JustStarted flag off once the
// incoming processor has emitted its history-first conversation_started
// event, per spec §4.4's "exactly once" invariant.
func (m *ConversationManager) ClearJustStarted(conversationID string) {
	m.idMu.RLock()
	conv, ok := m.convByID[conversationID]
	m.idMu.RUnlock()
	if !ok {
		return
	}
	unlock := m.locks.Lock(conv.PlatformConversationID)
	defer unlock()
	conv.JustStarted = false
}

// SetPinned updates a message's pin flag and the owning conversation's
// pinned-message index directly, without synthesizing a
// ConversationDelta. The outgoing processor calls this after a
// successful platform pin/unpin so cache state reflects the change even
// on platforms whose event stream won't report it back.
func (m *ConversationManager) SetPinned(platformConversationID, messageID string, pinned bool) bool {
	unlock := m.locks.Lock(platformConversationID)
	defer unlock()

	conv, ok := m.convByPlatformID[platformConversationID]
	if !ok {
		return false
	}
	if !m.Messages.SetPinned(conv.ConversationID, messageID, pinned) {
		return false
	}
	if pinned {
		conv.Pin(messageID)
	} else {
		conv.Unpin(messageID)
	}
	return true
}

// RecordOutgoingMessage registers a bot-authored send directly into the
// cache with model.OriginFramework, bypassing delta emission (spec
// §4.6 step 6: platforms whose event stream does not echo the bot's own
// sends need this so later edits/reactions/deletes on the same message
// id resolve correctly; platforms that do echo it simply see the
// already-cached id on arrival and fold to an empty, P1-idempotent
// delta instead of a loopback message_received).
func (m *ConversationManager) RecordOutgoingMessage(ctx context.Context, platformConversationID, messageID, text string, now time.Time) error {
	_, err := m.AddToConversation(ctx, NewMessageCtx{
		PlatformConversationID: platformConversationID,
		Message: IncomingMessage{
			MessageID:   messageID,
			Text:        text,
			TimestampMs: now.UnixMilli(),
		},
		Now:    now,
		Origin: model.OriginFramework,
	})
	return err
}

// AddToConversation implements spec §4.4's add_to_conversation, in the
// exact order mandated there: resolve-or-create the conversation,
// resolve the thread, build the message (resolving attachments),
// insert into the cache, update conversation bookkeeping, then produce
// the delta.
func (m *ConversationManager) AddToConversation(ctx context.Context, newCtx NewMessageCtx) (*model.ConversationDelta, error) {
	unlock := m.locks.Lock(newCtx.PlatformConversationID)
	defer unlock()

	delta := &model.ConversationDelta{}

	conv, existed := m.convByPlatformID[newCtx.PlatformConversationID]
	if !existed {
		conv = model.NewConversationInfo(ids.NewConversationID(), newCtx.PlatformConversationID, newCtx.ConversationType, newCtx.Now)
		conv.ConversationName = newCtx.ConversationName
		conv.ServerID = newCtx.ServerID
		conv.ServerName = newCtx.ServerName
		m.convByPlatformID[newCtx.PlatformConversationID] = conv
		m.idMu.Lock()
		m.convByID[conv.ConversationID] = conv
		m.idMu.Unlock()
		delta.ConversationStarted = true
		delta.FetchHistoryNeeded = true
	}
	delta.ConversationID = conv.ConversationID

	if _, exists := m.Messages.Get(conv.ConversationID, newCtx.Message.MessageID); exists {
		// Re-delivery of an id already present: P1 idempotence, empty delta
		// (ConversationStarted can't be true here since the conversation,
		// if new, couldn't already contain this message).
		return &model.ConversationDelta{ConversationID: conv.ConversationID}, nil
	}

	threadID := m.Threads.Resolve(conv, newCtx.Message.ThreadID, newCtx.Message.MessageID)
	newCtx.Message.ThreadID = threadID

	origin := newCtx.Origin
	if origin == "" {
		origin = model.OriginPlatform
	}
	msg, err := m.Builder.Build(ctx, newCtx, conv.ConversationID, origin)
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	// Capacity eviction here only trims MessageCache; it is not a delete
	// in the spec §4.4 sense (no DeletedMessages entry, thread/pin index
	// left as-is) — attachment and thread-membership GC for evicted ids
	// happens passively via the cache sweeps, the same way TruncateHistory
	// left sweep-driven GC to a background pass rather than inline cleanup.
	m.Messages.Insert(msg)

	conv.LastActivity = newCtx.Now
	conv.AddMember(msg.Sender.UserID)
	for _, attID := range msg.AttachmentIDs {
		conv.AddAttachment(attID)
	}

	user := m.Users.Upsert(msg.Sender.UserID, msg.Sender.DisplayName, newCtx.Now)

	delta.AddedMessages = append(delta.AddedMessages, msg)
	delta.UpsertUsers = append(delta.UpsertUsers, user)

	return delta, nil
}

// UpdateConversation implements spec §4.4's update_conversation. ctx
// carries only the fields the platform reported as changed; the manager
// diffs each against the cached copy so that one platform "edit" event
// can synthesize independent text/reaction/pin deltas — the
// platform-merged-event problem the spec calls out for Telegram and
// Discord.
func (m *ConversationManager) UpdateConversation(ctx context.Context, upd UpdateCtx) (*model.ConversationDelta, error) {
	unlock := m.locks.Lock(upd.PlatformConversationID)
	defer unlock()

	conv, ok := m.convByPlatformID[upd.PlatformConversationID]
	if !ok {
		return &model.ConversationDelta{}, nil
	}
	delta := &model.ConversationDelta{ConversationID: conv.ConversationID}

	cached, ok := m.Messages.Get(conv.ConversationID, upd.MessageID)
	if !ok {
		return delta, nil
	}

	if upd.NewText != nil && *upd.NewText != cached.Text {
		if m.Messages.Edit(conv.ConversationID, upd.MessageID, *upd.NewText) {
			delta.EditedMessages = append(delta.EditedMessages, model.EditedMessage{
				MessageID: upd.MessageID,
				NewText:   *upd.NewText,
				Origin:    cached.Origin,
			})
		}
	}

	if upd.Reactions != nil {
		m.diffReactions(conv.ConversationID, upd.MessageID, cached, upd.Reactions, delta)
	}
	if upd.ReactionUpdate != nil {
		m.diffUserReaction(conv.ConversationID, upd.MessageID, cached, *upd.ReactionUpdate, delta)
	}

	if upd.IsPinned != nil {
		if *upd.IsPinned && !cached.IsPinned {
			if m.Messages.SetPinned(conv.ConversationID, upd.MessageID, true) {
				conv.Pin(upd.MessageID)
				delta.Pins = append(delta.Pins, upd.MessageID)
			}
		} else if !*upd.IsPinned && cached.IsPinned {
			if m.Messages.SetPinned(conv.ConversationID, upd.MessageID, false) {
				conv.Unpin(upd.MessageID)
				delta.Unpins = append(delta.Unpins, upd.MessageID)
			}
		}
	}

	if !delta.IsEmpty() {
		conv.LastActivity = upd.Now
	}

	return delta, nil
}

// diffReactions compares the platform-reported complete reaction state
// against the cached copy and applies/records exactly the add/remove
// operations needed to converge, so a full-state reaction payload never
// produces spurious duplicate deltas on redelivery (P1).
func (m *ConversationManager) diffReactions(conversationID, messageID string, cached *model.CachedMessage, want map[string][]string, delta *model.ConversationDelta) {
	wantSet := make(map[[2]string]struct{})
	for emoji, userIDs := range want {
		for _, uid := range userIDs {
			wantSet[[2]string{emoji, uid}] = struct{}{}
		}
	}

	for emoji, users := range cached.Reactions {
		for uid := range users {
			if _, still := wantSet[[2]string{emoji, uid}]; !still {
				if m.Messages.RemoveReaction(conversationID, messageID, emoji, uid) {
					delta.RemovedReactions = append(delta.RemovedReactions, model.ReactionChange{
						MessageID: messageID, Emoji: emoji, UserID: uid, Origin: cached.Origin,
					})
				}
			}
		}
	}

	for key := range wantSet {
		emoji, uid := key[0], key[1]
		existing := cached.Reactions[emoji]
		if _, had := existing[uid]; had {
			continue
		}
		if m.Messages.AddReaction(conversationID, messageID, emoji, uid) {
			delta.AddedReactions = append(delta.AddedReactions, model.ReactionChange{
				MessageID: messageID, Emoji: emoji, UserID: uid, Origin: cached.Origin,
			})
		}
	}
}

// diffUserReaction applies a single actor's reported reaction state
// (Telegram's message_reaction update carries exactly this, not the
// message's full reaction picture) by comparing it only against that
// actor's own existing entries in the cached reaction map.
func (m *ConversationManager) diffUserReaction(conversationID, messageID string, cached *model.CachedMessage, upd ReactionUserUpdate, delta *model.ConversationDelta) {
	want := make(map[string]struct{}, len(upd.Emojis))
	for _, e := range upd.Emojis {
		want[e] = struct{}{}
	}

	for emoji, users := range cached.Reactions {
		if _, had := users[upd.UserID]; !had {
			continue
		}
		if _, still := want[emoji]; !still {
			if m.Messages.RemoveReaction(conversationID, messageID, emoji, upd.UserID) {
				delta.RemovedReactions = append(delta.RemovedReactions, model.ReactionChange{
					MessageID: messageID, Emoji: emoji, UserID: upd.UserID, Origin: cached.Origin,
				})
			}
		}
	}

	for emoji := range want {
		if users, ok := cached.Reactions[emoji]; ok {
			if _, had := users[upd.UserID]; had {
				continue
			}
		}
		if m.Messages.AddReaction(conversationID, messageID, emoji, upd.UserID) {
			delta.AddedReactions = append(delta.AddedReactions, model.ReactionChange{
				MessageID: messageID, Emoji: emoji, UserID: upd.UserID, Origin: cached.Origin,
			})
		}
	}
}

// DeleteFromConversation implements spec §4.4's delete_from_conversation.
// It never fails for an unknown message id, returning an empty delta.
func (m *ConversationManager) DeleteFromConversation(ctx context.Context, del DeleteCtx) (*model.ConversationDelta, error) {
	unlock := m.locks.Lock(del.PlatformConversationID)
	defer unlock()

	conv, ok := m.convByPlatformID[del.PlatformConversationID]
	if !ok {
		return &model.ConversationDelta{}, nil
	}
	delta := &model.ConversationDelta{ConversationID: conv.ConversationID}

	cached, existed := m.Messages.Get(conv.ConversationID, del.MessageID)
	if !existed {
		return delta, nil
	}

	if !m.Messages.Delete(conv.ConversationID, del.MessageID) {
		return delta, nil
	}

	conv.Unpin(del.MessageID)
	if cached.ThreadID != "" {
		if t, ok := conv.Threads[cached.ThreadID]; ok {
			t.RemoveThreadMember(del.MessageID)
			conv.RemoveThreadIfEmpty(cached.ThreadID)
		}
	}

	delta.DeletedMessages = append(delta.DeletedMessages, model.DeletedMessage{
		MessageID: del.MessageID,
		Origin:    cached.Origin,
	})
	return delta, nil
}
