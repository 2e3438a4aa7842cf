package attachments

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"chatbridge/pkg/platform"
)

// Uploader base64-decodes outgoing attachment content, stages it as a
// temp file, and hands it to the platform client, per spec §4.6 step 4.
type Uploader struct {
	tempDir string
}

// NewUploader builds an Uploader that stages files under tempDir before
// handing them to the platform client.
func NewUploader(tempDir string) *Uploader {
	return &Uploader{tempDir: tempDir}
}

// UploadBase64 decodes base64Content, writes it to a temp file, uploads
// it through client, and removes the temp file afterward regardless of
// outcome.
func (u *Uploader) UploadBase64(ctx context.Context, client platform.Client, conversationID, name, base64Content string) (platform.AttachmentUpload, error) {
	data, err := base64.StdEncoding.DecodeString(base64Content)
	if err != nil {
		return platform.AttachmentUpload{}, fmt.Errorf("invalid base64 attachment content: %w", err)
	}

	if err := os.MkdirAll(u.tempDir, 0755); err != nil {
		return platform.AttachmentUpload{}, fmt.Errorf("failed to create upload temp dir: %w", err)
	}

	safeName := filepath.Base(name)
	tempPath := filepath.Join(u.tempDir, fmt.Sprintf("upload-%s-%s", AttachmentID("upload", conversationID), safeName))
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return platform.AttachmentUpload{}, fmt.Errorf("failed to stage attachment for upload: %w", err)
	}
	defer os.Remove(tempPath)

	return client.UploadAttachment(ctx, conversationID, name, data)
}
