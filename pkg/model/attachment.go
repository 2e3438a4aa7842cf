package model

import "time"

// AttachmentType classifies a CachedAttachment for on-disk layout and
// wire framing purposes.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentSticker  AttachmentType = "sticker"
)

// CachedAttachment is the in-memory record of a downloaded (or
// rehydrated) attachment. The attachment_id is stable across restarts
// so that fetch_attachment keeps working after a process bounce.
type CachedAttachment struct {
	AttachmentID  string         `json:"attachment_id"`
	Type          AttachmentType `json:"attachment_type"`
	FileExtension string         `json:"file_extension"`
	SizeBytes     int64          `json:"size_bytes"`
	Processable   bool           `json:"processable"` // false if it exceeded max_file_size_mb
	LocalPath     string         `json:"local_path,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AttachmentDescriptor is the wire shape of an attachment, always base64-framed.
// Content is only populated for fetch_attachment replies and newly
// received messages — never for history payloads.
type AttachmentDescriptor struct {
	AttachmentID  string `json:"attachment_id"`
	AttachmentType string `json:"attachment_type"`
	FileExtension string `json:"file_extension"`
	Size          int64  `json:"size"`
	Processable   bool   `json:"processable"`
	Content       string `json:"content,omitempty"`
}

// ToDescriptor converts a cached attachment into its wire shape. content
// carries pre-encoded base64 data and is only passed by callers that are
// allowed to inline it (new messages, fetch_attachment).
func (a *CachedAttachment) ToDescriptor(content string) AttachmentDescriptor {
	return AttachmentDescriptor{
		AttachmentID:   a.AttachmentID,
		AttachmentType: string(a.Type),
		FileExtension:  a.FileExtension,
		Size:           a.SizeBytes,
		Processable:    a.Processable,
		Content:        content,
	}
}
