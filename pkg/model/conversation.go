// Package model defines the in-memory entities shared by every component
// of the adapter core: conversations, threads, messages, users and
// attachments, plus the ConversationDelta value the manager emits.
package model

import "time"

// ConversationInfo is the authoritative in-memory record of a single
// platform-defined chat context (channel, DM, topic, thread root).
//
// ConversationID is the adapter-assigned, stable identifier exchanged
// with the framework. PlatformConversationID is the separate
// platform-native key (e.g. "guild/channel", "stream/topic", a user
// pair). The two are kept distinct even when a platform's natural key
// could double as one.
type ConversationInfo struct {
	ConversationID         string
	PlatformConversationID string
	ConversationType       string // "dm", "group", "channel", ...
	ConversationName       string
	ServerID               string
	ServerName             string
	CreatedAt               time.Time
	LastActivity            time.Time
	KnownMembers            map[string]struct{}
	JustStarted             bool
	Threads                 map[string]*ThreadInfo
	Attachments             map[string]struct{}
	PinnedIDs               []string // ordered, oldest first
}

// ThreadInfo tracks a reply grouping inside a conversation.
type ThreadInfo struct {
	RootMessageID string
	MemberIDs     []string // ordered by arrival
	IsPinned      bool
}

// NewConversationInfo creates a fresh conversation record for a
// first-observed platform id. JustStarted is true until the incoming
// processor clears it right after emitting conversation_started.
func NewConversationInfo(conversationID, platformConversationID, convType string, now time.Time) *ConversationInfo {
	return &ConversationInfo{
		ConversationID:         conversationID,
		PlatformConversationID: platformConversationID,
		ConversationType:       convType,
		CreatedAt:              now,
		LastActivity:           now,
		JustStarted:            true,
		KnownMembers:           make(map[string]struct{}),
		Threads:                make(map[string]*ThreadInfo),
		Attachments:            make(map[string]struct{}),
	}
}

// AddMember records a user id as a known participant of the conversation.
func (c *ConversationInfo) AddMember(userID string) {
	if userID == "" {
		return
	}
	c.KnownMembers[userID] = struct{}{}
}

// HasMember reports whether userID is a known participant.
func (c *ConversationInfo) HasMember(userID string) bool {
	_, ok := c.KnownMembers[userID]
	return ok
}

// AddAttachment records an attachment id as belonging to this conversation.
func (c *ConversationInfo) AddAttachment(attachmentID string) {
	if attachmentID == "" {
		return
	}
	c.Attachments[attachmentID] = struct{}{}
}

// ThreadOrCreate returns the ThreadInfo for threadID, creating it (rooted
// at rootMessageID) if this is the first message observed in the thread.
func (c *ConversationInfo) ThreadOrCreate(threadID, rootMessageID string) *ThreadInfo {
	if t, ok := c.Threads[threadID]; ok {
		return t
	}
	t := &ThreadInfo{RootMessageID: rootMessageID}
	c.Threads[threadID] = t
	return t
}

// RemoveThreadIfEmpty deletes a thread once its last member message has
// been removed.
func (c *ConversationInfo) RemoveThreadIfEmpty(threadID string) {
	t, ok := c.Threads[threadID]
	if !ok {
		return
	}
	if len(t.MemberIDs) == 0 {
		delete(c.Threads, threadID)
	}
}

// Pin appends a message id to the ordered pinned set, if not already pinned.
func (c *ConversationInfo) Pin(messageID string) bool {
	for _, id := range c.PinnedIDs {
		if id == messageID {
			return false
		}
	}
	c.PinnedIDs = append(c.PinnedIDs, messageID)
	return true
}

// Unpin removes a message id from the pinned set. Returns false if it
// was not pinned.
func (c *ConversationInfo) Unpin(messageID string) bool {
	for i, id := range c.PinnedIDs {
		if id == messageID {
			c.PinnedIDs = append(c.PinnedIDs[:i], c.PinnedIDs[i+1:]...)
			return true
		}
	}
	return false
}

// AddThreadMember appends a message id to a thread's member list in
// arrival order.
func (t *ThreadInfo) AddThreadMember(messageID string) {
	t.MemberIDs = append(t.MemberIDs, messageID)
}

// RemoveThreadMember removes a message id from a thread's member list.
func (t *ThreadInfo) RemoveThreadMember(messageID string) {
	for i, id := range t.MemberIDs {
		if id == messageID {
			t.MemberIDs = append(t.MemberIDs[:i], t.MemberIDs[i+1:]...)
			return
		}
	}
}
