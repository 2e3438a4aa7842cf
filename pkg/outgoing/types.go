package outgoing

import "fmt"

// ValidationError covers malformed payloads and requests that violate a
// documented constraint (over-long edit text, attachments on a platform
// that forbids them on edit, a fetch_history call missing both
// before/after).
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ConversationNotFoundError is returned when a request's conversation_id
// does not resolve to any conversation the manager knows about.
type ConversationNotFoundError struct{ ConversationID string }

func (e *ConversationNotFoundError) Error() string {
	return fmt.Sprintf("conversation not found: %s", e.ConversationID)
}

// AttachmentError wraps a failure to resolve or upload a requested
// attachment.
type AttachmentError struct {
	Msg string
	Err error
}

func (e *AttachmentError) Error() string { return e.Msg + ": " + e.Err.Error() }
func (e *AttachmentError) Unwrap() error { return e.Err }

type mentionJSON struct {
	UserID string `json:"user_id"`
	All    bool   `json:"all"`
}

type attachmentUploadJSON struct {
	Name    string `json:"name"`
	Content string `json:"content"` // base64
}

type sendMessageRequest struct {
	ConversationID string                 `json:"conversation_id"`
	Text           string                 `json:"text"`
	Mentions       []mentionJSON          `json:"mentions"`
	Attachments    []attachmentUploadJSON `json:"attachments"`
}

type editMessageRequest struct {
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	Text           string                 `json:"text"`
	Attachments    []attachmentUploadJSON `json:"attachments"`
}

type deleteMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type reactionRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
}

type pinRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type fetchHistoryRequest struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Before         *int64 `json:"before"`
	After          *int64 `json:"after"`
}

type fetchAttachmentRequest struct {
	AttachmentID string `json:"attachment_id"`
}
