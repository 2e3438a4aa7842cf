package conversation

import (
	"context"
	"fmt"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/model"
)

// DefaultMessageBuilder resolves attachment references through a
// Downloader and otherwise copies the incoming fields straight across.
// It is grounded on telegram_channel.go's UnifiedMessage construction:
// extract sender, text, mentions, then attachments last since they are
// the only step that can block on network I/O.
type DefaultMessageBuilder struct {
	Downloader   *attachments.Downloader
	PlatformType string
}

// NewDefaultMessageBuilder constructs a MessageBuilder backed by d.
func NewDefaultMessageBuilder(platformType string, d *attachments.Downloader) *DefaultMessageBuilder {
	return &DefaultMessageBuilder{Downloader: d, PlatformType: platformType}
}

// Build implements MessageBuilder.
func (b *DefaultMessageBuilder) Build(ctx context.Context, newCtx NewMessageCtx, conversationID string, origin model.MessageOrigin) (*model.CachedMessage, error) {
	msg := model.NewCachedMessage(
		newCtx.Message.MessageID,
		conversationID,
		model.Sender{UserID: newCtx.Message.SenderID, DisplayName: newCtx.Message.SenderName},
		newCtx.Message.Text,
		newCtx.Message.TimestampMs,
		origin,
	)
	msg.ThreadID = newCtx.Message.ThreadID
	msg.Mentions = append([]string(nil), newCtx.Message.Mentions...)
	msg.IsDirectMessage = newCtx.Message.IsDirectMessage

	for _, ref := range newCtx.Message.AttachmentRefs {
		att, err := b.Downloader.Download(ctx, newCtx.Client, b.PlatformType, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve attachment %q: %w", ref.Ref, err)
		}
		msg.AttachmentIDs = append(msg.AttachmentIDs, att.AttachmentID)
	}

	return msg, nil
}
