// Package conversation implements the authoritative in-memory state
// machine for conversations, threads and messages: ConversationManager,
// ThreadHandler and MessageBuilder. It is new code (the teacher has no
// equivalent domain) but follows the teacher's composition style —
// concrete structs wired together by field, no inheritance — the way
// GatewayManager is built from an explicit LLMClient, ChatHistory and
// ToolRegistry rather than a base class.
package conversation

import (
	"context"
	"time"

	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

// IncomingMessage is the platform-agnostic shape a MessageBuilder turns
// into a CachedMessage. Platform packages populate it from whatever
// native event they received; it is also what FetchHistory results are
// normalized into before replay through the same builder.
type IncomingMessage struct {
	MessageID       string
	ThreadID        string
	SenderID        string
	SenderName      string
	Text            string
	Mentions        []string
	AttachmentRefs  []platform.AttachmentRef
	TimestampMs     int64
	IsDirectMessage bool
}

// FromRawMessage adapts a platform.RawMessage (as returned by
// FetchHistory) into the same shape a live event would take.
func FromRawMessage(raw platform.RawMessage) IncomingMessage {
	return IncomingMessage{
		MessageID:       raw.ID,
		ThreadID:        raw.ThreadID,
		SenderID:        raw.SenderID,
		SenderName:      raw.SenderName,
		Text:            raw.Text,
		Mentions:        raw.Mentions,
		AttachmentRefs:  raw.AttachmentRefs,
		TimestampMs:     raw.TimestampMs,
		IsDirectMessage: raw.IsDirectMessage,
	}
}

// NewMessageCtx is the input to AddToConversation (spec §4.4).
type NewMessageCtx struct {
	PlatformType           string
	PlatformConversationID string
	ConversationType       string
	ConversationName       string
	ServerID               string
	ServerName             string

	Client  platform.Client // used only to resolve attachment refs
	Message IncomingMessage
	Now     time.Time

	// Origin overrides the default model.OriginPlatform tag on the
	// resulting CachedMessage. The outgoing processor sets this to
	// model.OriginFramework when recording a bot-authored send on a
	// platform that will not echo it back through the event stream.
	Origin model.MessageOrigin
}

// UpdateCtx is the input to UpdateConversation. Only the fields that
// changed are non-nil/non-empty; the manager diffs against the cached
// message to synthesize distinct edit/reaction/pin deltas, which is how
// it resolves the "one platform event, several possible meanings"
// problem spec §4.4 describes for Telegram and Discord.
type UpdateCtx struct {
	PlatformConversationID string
	MessageID              string

	NewText *string

	// Reactions, when non-nil, is the *complete* current reaction state
	// reported by the platform for this message (emoji -> user ids). The
	// manager diffs it against the cached copy to produce AddedReactions
	// and RemovedReactions.
	Reactions map[string][]string

	IsPinned *bool

	// ReactionUpdate, when non-nil, replaces one user's reaction state on
	// the message instead of the whole message's (Telegram's
	// message_reaction update reports a single actor's complete reaction
	// set, not the full picture the way a Discord REST fetch would).
	// Mutually exclusive with Reactions in practice, but both are diffed
	// independently if present.
	ReactionUpdate *ReactionUserUpdate

	Now time.Time
}

// ReactionUserUpdate is one user's complete reaction state on a message,
// as reported by platforms (Telegram) whose native event only carries a
// single actor's reactions rather than the message's full state.
type ReactionUserUpdate struct {
	UserID string
	Emojis []string
}

// DeleteCtx is the input to DeleteFromConversation.
type DeleteCtx struct {
	PlatformConversationID string
	MessageID              string
}

// MessageBuilder turns a platform-specific IncomingMessage into a
// normalized CachedMessage, resolving attachment references through the
// attachment downloader along the way. Platforms with unusual
// conventions (e.g. a mention syntax with no display name) can supply
// their own implementation; DefaultMessageBuilder covers the common
// case.
type MessageBuilder interface {
	Build(ctx context.Context, newCtx NewMessageCtx, conversationID string, origin model.MessageOrigin) (*model.CachedMessage, error)
}
