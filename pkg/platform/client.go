// Package platform defines the narrow interface every platform-specific
// transport (Telegram, Slack, Discord, Zulip, a webhook receiver, ...)
// must implement to plug into the adapter core. The interface is
// deliberately thin so webhook-only, polling and socket-mode transports
// all fit behind it — reconnection policy is each implementation's own
// responsibility, but it must report IsAlive faithfully.
package platform

import "context"

// RawEvent is an unopinionated envelope for a platform-native event. The
// incoming processor's per-platform handler table knows how to turn
// Payload into conversation-manager calls; the core never inspects it.
type RawEvent struct {
	Type    string // platform-defined event type, e.g. "message", "edited_message"
	Payload any
}

// AttachmentRef identifies a remote attachment well enough for
// DownloadAttachment to retrieve it; its shape is platform-specific
// (file id, URL, ...) and opaque to the core.
type AttachmentRef struct {
	Ref      string
	Filename string
	MimeType string
	Size     int64
}

// AttachmentUpload is the result of uploading bytes to a platform: a
// reference the platform accepted, good enough to embed in a subsequent
// send.
type AttachmentUpload struct {
	Ref string
}

// MentionSpec describes a mention to apply to an outgoing message, using
// the adapter-facing user id rather than a platform-native mention
// syntax — platform clients translate it back at send time.
type MentionSpec struct {
	UserID string
	All    bool
}

// RawMessage is a platform-native message as returned by FetchHistory,
// left for the IncomingEventProcessor's MessageBuilder to normalize the
// same way a freshly streamed event would be.
type RawMessage struct {
	ID              string
	ThreadID        string
	SenderID        string
	SenderName      string
	Text            string
	Mentions        []string
	AttachmentRefs  []AttachmentRef
	TimestampMs     int64
	IsDirectMessage bool
}

// Client is the interface every platform-specific transport must
// implement. Every conversationID parameter is the platform-native
// conversation address (ConversationInfo.PlatformConversationID, e.g. a
// Telegram chat id or a "guild/channel" pair) — never the adapter's own
// conversation_id, which only the framework-facing layers see. All
// methods may fail with a TransientError (retry) or a PermanentError
// (surface to the framework).
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsAlive() bool

	// StreamEvents returns a channel of raw platform events. There is a
	// single consumer: the IncomingEventProcessor. The channel is closed
	// when the client disconnects.
	StreamEvents() <-chan RawEvent

	SendMessage(ctx context.Context, conversationID, text string, mentions []MentionSpec, attachments []AttachmentUpload) ([]string, error)
	EditMessage(ctx context.Context, conversationID, messageID, text string) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	AddReaction(ctx context.Context, conversationID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error
	PinMessage(ctx context.Context, conversationID, messageID string) error
	UnpinMessage(ctx context.Context, conversationID, messageID string) error

	// FetchHistory requires at least one of before/after (ms since epoch);
	// implementations reject calls lacking both.
	FetchHistory(ctx context.Context, conversationID string, limit int, before, after *int64) ([]RawMessage, error)

	DownloadAttachment(ctx context.Context, ref AttachmentRef) ([]byte, error)
	UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (AttachmentUpload, error)
}

// Factory constructs a Client from its platform-specific raw JSON
// configuration. Platform packages register a Factory in their init()
// the way genesis/pkg/channels/telegram registers a ChannelFactory.
type Factory interface {
	Create(rawConfig []byte) (Client, error)
}

var registry = make(map[string]Factory)

// Register adds a platform Factory under adapterType to the global
// registry. Call from an init() in the platform's package.
func Register(adapterType string, factory Factory) {
	registry[adapterType] = factory
}

// Lookup retrieves a registered Factory by adapter_type.
func Lookup(adapterType string) (Factory, bool) {
	f, ok := registry[adapterType]
	return f, ok
}
