// Package ids generates the adapter-assigned conversation ids used
// across the codebase.
package ids

import "github.com/google/uuid"

// NewConversationID returns a fresh adapter-assigned conversation id.
//
// Conversation ids are deliberately never derived from a platform's
// native identifier (e.g. "guild/channel"): the spec treats the two as
// distinct even when a platform's key could double as one, so that
// swapping platform id schemes never changes the framework-visible id.
func NewConversationID() string {
	return uuid.NewString()
}
