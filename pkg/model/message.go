package model

// MessageOrigin distinguishes messages authored by a platform user from
// messages the framework itself sent through this adapter. It is the
// basis of the loopback filter (spec §7): a delta entry whose subject
// message has OriginFramework is dropped before EventBus emission.
type MessageOrigin string

const (
	OriginPlatform  MessageOrigin = "platform"
	OriginFramework MessageOrigin = "framework"
)

// Sender identifies the author of a CachedMessage.
type Sender struct {
	UserID      string
	DisplayName string
}

// CachedMessage is the normalized, in-memory record of a single message
// inside a conversation (and optionally a thread).
type CachedMessage struct {
	MessageID      string
	ConversationID string
	ThreadID       string // empty if not part of a thread
	Sender         Sender
	Text           string
	Mentions       []string // user ids, or the literal "all"
	AttachmentIDs  []string
	Reactions      map[string]map[string]struct{} // emoji -> set of user ids
	IsDirectMessage bool
	IsPinned        bool
	TimestampMs     int64
	Origin          MessageOrigin
}

// NewCachedMessage builds a message record with initialized collections.
func NewCachedMessage(messageID, conversationID string, sender Sender, text string, timestampMs int64, origin MessageOrigin) *CachedMessage {
	return &CachedMessage{
		MessageID:      messageID,
		ConversationID: conversationID,
		Sender:         sender,
		Text:           text,
		Reactions:      make(map[string]map[string]struct{}),
		TimestampMs:    timestampMs,
		Origin:         origin,
	}
}

// AddReaction records that userID reacted with emoji. Returns false if
// the reaction already existed (idempotent — see property P1).
func (m *CachedMessage) AddReaction(emoji, userID string) bool {
	users, ok := m.Reactions[emoji]
	if !ok {
		users = make(map[string]struct{})
		m.Reactions[emoji] = users
	}
	if _, exists := users[userID]; exists {
		return false
	}
	users[userID] = struct{}{}
	return true
}

// RemoveReaction deletes userID's reaction with emoji. Returns false if
// there was nothing to remove.
func (m *CachedMessage) RemoveReaction(emoji, userID string) bool {
	users, ok := m.Reactions[emoji]
	if !ok {
		return false
	}
	if _, exists := users[userID]; !exists {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(m.Reactions, emoji)
	}
	return true
}

// Clone returns a deep copy safe for handing to a reader outside the
// cache's lock.
func (m *CachedMessage) Clone() *CachedMessage {
	cp := *m
	cp.Mentions = append([]string(nil), m.Mentions...)
	cp.AttachmentIDs = append([]string(nil), m.AttachmentIDs...)
	cp.Reactions = make(map[string]map[string]struct{}, len(m.Reactions))
	for emoji, users := range m.Reactions {
		us := make(map[string]struct{}, len(users))
		for u := range users {
			us[u] = struct{}{}
		}
		cp.Reactions[emoji] = us
	}
	return &cp
}
