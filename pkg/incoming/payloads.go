package incoming

import (
	"encoding/base64"
	"os"

	"chatbridge/pkg/model"
)

// messagePayload builds the bot_request wire shape for a single
// message. includeContent gates attachment base64 inlining: true for a
// freshly received message, false for history entries (spec §6.1:
// "never for history payloads").
func (p *Processor) messagePayload(msg *model.CachedMessage, includeContent bool) map[string]any {
	return map[string]any{
		"conversation_id":   msg.ConversationID,
		"message_id":        msg.MessageID,
		"thread_id":         msg.ThreadID,
		"text":              msg.Text,
		"mentions":          msg.Mentions,
		"sender":            senderPayload(msg.Sender),
		"is_direct_message": msg.IsDirectMessage,
		"timestamp_ms":      msg.TimestampMs,
		"attachments":       p.buildAttachments(msg.AttachmentIDs, includeContent),
	}
}

func senderPayload(s model.Sender) map[string]any {
	return map[string]any{
		"user_id":      s.UserID,
		"display_name": s.DisplayName,
	}
}

func (p *Processor) buildAttachments(ids []string, includeContent bool) []model.AttachmentDescriptor {
	out := make([]model.AttachmentDescriptor, 0, len(ids))
	for _, id := range ids {
		att, ok := p.deps.Attachments.Get(id)
		if !ok {
			continue
		}
		content := ""
		if includeContent && att.Processable && att.LocalPath != "" {
			if data, err := os.ReadFile(att.LocalPath); err == nil {
				content = base64.StdEncoding.EncodeToString(data)
			}
		}
		out = append(out, att.ToDescriptor(content))
	}
	return out
}

func (p *Processor) conversationStartedPayload(conv model.ConversationInfo, history []*model.CachedMessage) map[string]any {
	hist := make([]map[string]any, 0, len(history))
	for _, m := range history {
		hist = append(hist, p.messagePayload(m, false)) // never content in history
	}
	return map[string]any{
		"conversation_id":          conv.ConversationID,
		"platform_conversation_id": conv.PlatformConversationID,
		"conversation_type":        conv.ConversationType,
		"conversation_name":        conv.ConversationName,
		"history":                  hist,
	}
}
