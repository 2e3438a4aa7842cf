package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/platform"
)

// DownloadAttachment resolves a Telegram file id to its bytes, mirroring
// downloadPhoto's GetFile-then-stream approach but returning the bytes
// directly — the on-disk write and dedup live in pkg/attachments now.
func (c *Client) DownloadAttachment(ctx context.Context, ref platform.AttachmentRef) ([]byte, error) {
	fileInfo, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: ref.Ref})
	if err != nil {
		return nil, classifyTelegramError("download_attachment", err)
	}

	fileURL := fileInfo.Link(c.cfg.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, platform.NewTransientError("download_attachment", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, platform.NewTransientError("download_attachment", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, platform.NewTransientError("download_attachment", fmt.Errorf("telegram file download status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platform.NewTransientError("download_attachment", err)
	}
	return data, nil
}

// UploadAttachment posts bytes to Telegram as a document and returns the
// resulting file id, which is reusable as a reference for later sends.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (platform.AttachmentUpload, error) {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.AttachmentUpload{}, platform.NewPermanentError("upload_attachment", err)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	sent, err := c.bot.Send(doc)
	if err != nil {
		return platform.AttachmentUpload{}, classifyTelegramError("upload_attachment", err)
	}
	if sent.Document == nil {
		return platform.AttachmentUpload{}, platform.NewPermanentError("upload_attachment", fmt.Errorf("telegram did not return a document on upload"))
	}
	return platform.AttachmentUpload{Ref: sent.Document.FileID}, nil
}
