package model

// ConversationDelta is the set of state changes synthesized by the
// ConversationManager from a single platform event. The incoming
// processor converts each entry into one normalized outgoing framework
// event, in the order the fields are listed below; UpsertUsers and
// FetchHistoryNeeded produce no event of their own.
type ConversationDelta struct {
	ConversationID string

	// ConversationStarted is true exactly when this event caused the
	// conversation to be created (spec §4.4 step 1 / history-first rule).
	ConversationStarted bool

	AddedMessages   []*CachedMessage
	EditedMessages  []EditedMessage
	DeletedMessages []DeletedMessage

	AddedReactions   []ReactionChange
	RemovedReactions []ReactionChange

	Pins   []string // message ids newly pinned
	Unpins []string // message ids newly unpinned

	UpsertUsers []*UserInfo

	// FetchHistoryNeeded hints that the incoming processor must run the
	// history-first sequence before emitting anything else for this
	// conversation.
	FetchHistoryNeeded bool
}

// EditedMessage describes a text change to an existing cached message.
type EditedMessage struct {
	MessageID string
	NewText   string
	Origin    MessageOrigin
}

// DeletedMessage describes a removed message. Origin is carried through
// so the incoming processor can apply the loopback filter to deletes of
// framework-originated messages the same way it does for edits and
// reactions.
type DeletedMessage struct {
	MessageID string
	Origin    MessageOrigin
}

// ReactionChange describes a single reaction add/remove.
type ReactionChange struct {
	MessageID string
	Emoji     string
	UserID    string
	Origin    MessageOrigin // origin of the message being reacted to
}

// IsEmpty reports whether the delta carries no observable change. Used
// to satisfy P1 (idempotent delivery of a duplicate event).
func (d *ConversationDelta) IsEmpty() bool {
	if d == nil {
		return true
	}
	return !d.ConversationStarted &&
		len(d.AddedMessages) == 0 &&
		len(d.EditedMessages) == 0 &&
		len(d.DeletedMessages) == 0 &&
		len(d.AddedReactions) == 0 &&
		len(d.RemovedReactions) == 0 &&
		len(d.Pins) == 0 &&
		len(d.Unpins) == 0 &&
		len(d.UpsertUsers) == 0
}
