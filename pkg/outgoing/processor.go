// Package outgoing implements spec §4.6's OutgoingEventProcessor: the
// EventBus's RequestHandler, turning each framework bot_response into a
// validated, rate-limited platform.Client call.
package outgoing

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/emoji"
	"chatbridge/pkg/incoming"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
	"chatbridge/pkg/ratelimit"
)

// OutgoingEventProcessor is the eventbus.RequestHandler that dispatches
// every bot_response event_type spec §6.1 defines.
type OutgoingEventProcessor struct {
	Manager      *conversation.ConversationManager
	Attachments  *cache.AttachmentCache
	Client       platform.Client
	PlatformType string

	RateLimiter *ratelimit.RateLimiter
	Uploader    *attachments.Uploader
	Emoji       *emoji.Converter
	History     *incoming.HistoryFetcher

	MaxMessageLength       int
	AllowAttachmentsOnEdit bool
	SupportsPinUnpin       bool
	SelfUserID             string

	Now func() time.Time
}

// Handle implements eventbus.RequestHandler.
func (p *OutgoingEventProcessor) Handle(ctx context.Context, eventType string, data json.RawMessage) (any, error) {
	switch eventType {
	case "send_message":
		return p.handleSend(ctx, data)
	case "edit_message":
		return p.handleEdit(ctx, data)
	case "delete_message":
		return p.handleDelete(ctx, data)
	case "add_reaction":
		return p.handleReaction(ctx, data, true)
	case "remove_reaction":
		return p.handleReaction(ctx, data, false)
	case "fetch_history":
		return p.handleFetchHistory(ctx, data)
	case "fetch_attachment":
		return p.handleFetchAttachment(data)
	case "pin_message":
		return p.handlePin(ctx, data, true)
	case "unpin_message":
		return p.handlePin(ctx, data, false)
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown event_type %q", eventType)}
	}
}

func (p *OutgoingEventProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *OutgoingEventProcessor) resolveConversation(conversationID string) (model.ConversationInfo, error) {
	conv, ok := p.Manager.ConversationByID(conversationID)
	if !ok {
		return model.ConversationInfo{}, &ConversationNotFoundError{ConversationID: conversationID}
	}
	return conv, nil
}

func convertMentions(in []mentionJSON) []platform.MentionSpec {
	out := make([]platform.MentionSpec, 0, len(in))
	for _, m := range in {
		out = append(out, platform.MentionSpec{UserID: m.UserID, All: m.All})
	}
	return out
}

func (p *OutgoingEventProcessor) resolveUploads(ctx context.Context, conv model.ConversationInfo, in []attachmentUploadJSON) ([]platform.AttachmentUpload, error) {
	out := make([]platform.AttachmentUpload, 0, len(in))
	for _, a := range in {
		up, err := p.Uploader.UploadBase64(ctx, p.Client, conv.PlatformConversationID, a.Name, a.Content)
		if err != nil {
			return nil, &AttachmentError{Msg: "failed to upload attachment " + a.Name, Err: err}
		}
		out = append(out, up)
	}
	return out, nil
}

func (p *OutgoingEventProcessor) resolveEmoji(name string) string {
	trimmed := strings.Trim(name, ":")
	if glyph, ok := p.Emoji.ToGlyph(trimmed); ok {
		return glyph
	}
	return name
}

func (p *OutgoingEventProcessor) handleSend(ctx context.Context, data json.RawMessage) (any, error) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed send_message payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassMessage, conv.ConversationID); err != nil {
		return nil, err
	}

	uploads, err := p.resolveUploads(ctx, conv, req.Attachments)
	if err != nil {
		return nil, err
	}
	mentions := convertMentions(req.Mentions)
	chunks := splitMessage(req.Text, p.MaxMessageLength)

	var messageIDs []string
	for i, chunk := range chunks {
		var chunkAttachments []platform.AttachmentUpload
		if i == 0 {
			chunkAttachments = uploads // attachments ride on the first chunk only
		}
		ids, err := p.Client.SendMessage(ctx, conv.PlatformConversationID, chunk, mentions, chunkAttachments)
		if err != nil {
			return nil, err
		}
		messageIDs = append(messageIDs, ids...)
	}

	p.recordFrameworkSend(ctx, conv, messageIDs, chunks)

	return map[string]any{"message_ids": messageIDs}, nil
}

// recordFrameworkSend registers each newly sent message with
// origin=framework (spec §4.6 step 6) so a platform that does not echo
// the bot's own sends still resolves later edits/reactions/deletes
// against these ids, and a platform that does echo them collapses the
// echoed event into the P1 idempotent no-op instead of a loopback.
func (p *OutgoingEventProcessor) recordFrameworkSend(ctx context.Context, conv model.ConversationInfo, messageIDs []string, chunks []string) {
	now := p.now()
	for i, id := range messageIDs {
		text := ""
		if i < len(chunks) {
			text = chunks[i]
		}
		if err := p.Manager.RecordOutgoingMessage(ctx, conv.PlatformConversationID, id, text, now); err != nil {
			slog.Warn("failed to record framework-originated message", "message_id", id, "error", err)
		}
	}
}

func (p *OutgoingEventProcessor) handleEdit(ctx context.Context, data json.RawMessage) (any, error) {
	var req editMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed edit_message payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if p.MaxMessageLength > 0 && len([]rune(req.Text)) > p.MaxMessageLength {
		return nil, &ValidationError{Msg: "edit_message text exceeds max_message_length and cannot be split"}
	}
	if len(req.Attachments) > 0 && !p.AllowAttachmentsOnEdit {
		return nil, &ValidationError{Msg: "attachments are not supported on edit_message for this platform"}
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassMessage, conv.ConversationID); err != nil {
		return nil, err
	}
	if err := p.Client.EditMessage(ctx, conv.PlatformConversationID, req.MessageID, req.Text); err != nil {
		return nil, err
	}
	p.Manager.Messages.Edit(conv.ConversationID, req.MessageID, req.Text)
	return map[string]any{}, nil
}

func (p *OutgoingEventProcessor) handleDelete(ctx context.Context, data json.RawMessage) (any, error) {
	var req deleteMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed delete_message payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassOther, conv.ConversationID); err != nil {
		return nil, err
	}
	if err := p.Client.DeleteMessage(ctx, conv.PlatformConversationID, req.MessageID); err != nil {
		return nil, err
	}
	_, _ = p.Manager.DeleteFromConversation(ctx, conversation.DeleteCtx{
		PlatformConversationID: conv.PlatformConversationID,
		MessageID:              req.MessageID,
	})
	return map[string]any{}, nil
}

func (p *OutgoingEventProcessor) handleReaction(ctx context.Context, data json.RawMessage, add bool) (any, error) {
	var req reactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed reaction payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassOther, conv.ConversationID); err != nil {
		return nil, err
	}

	glyph := p.resolveEmoji(req.Emoji)
	if add {
		if err := p.Client.AddReaction(ctx, conv.PlatformConversationID, req.MessageID, glyph); err != nil {
			return nil, err
		}
		p.Manager.Messages.AddReaction(conv.ConversationID, req.MessageID, glyph, p.SelfUserID)
	} else {
		if err := p.Client.RemoveReaction(ctx, conv.PlatformConversationID, req.MessageID, glyph); err != nil {
			return nil, err
		}
		p.Manager.Messages.RemoveReaction(conv.ConversationID, req.MessageID, glyph, p.SelfUserID)
	}
	return map[string]any{}, nil
}

func (p *OutgoingEventProcessor) handlePin(ctx context.Context, data json.RawMessage, pin bool) (any, error) {
	var req pinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed pin payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !p.SupportsPinUnpin {
		return nil, platform.NewPermanentError("pin/unpin", platform.ErrUnsupported)
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassOther, conv.ConversationID); err != nil {
		return nil, err
	}

	if pin {
		if err := p.Client.PinMessage(ctx, conv.PlatformConversationID, req.MessageID); err != nil {
			return nil, err
		}
	} else {
		if err := p.Client.UnpinMessage(ctx, conv.PlatformConversationID, req.MessageID); err != nil {
			return nil, err
		}
	}
	p.Manager.SetPinned(conv.PlatformConversationID, req.MessageID, pin)
	return map[string]any{}, nil
}

func (p *OutgoingEventProcessor) handleFetchHistory(ctx context.Context, data json.RawMessage) (any, error) {
	var req fetchHistoryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed fetch_history payload: " + err.Error()}
	}
	conv, err := p.resolveConversation(req.ConversationID)
	if err != nil {
		return nil, err
	}
	if req.Before == nil && req.After == nil {
		return nil, &ValidationError{Msg: "fetch_history requires before or after"}
	}
	if err := p.RateLimiter.LimitRequest(ctx, ratelimit.ClassOther, conv.ConversationID); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := p.History.Fetch(ctx, p.Client, p.PlatformType, conv.PlatformConversationID, conv.ConversationID, limit, req.Before, req.After)
	if err != nil {
		return nil, err
	}

	history := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, map[string]any{
			"message_id":        m.MessageID,
			"thread_id":         m.ThreadID,
			"text":              m.Text,
			"mentions":          m.Mentions,
			"sender":            map[string]any{"user_id": m.Sender.UserID, "display_name": m.Sender.DisplayName},
			"is_direct_message": m.IsDirectMessage,
			"timestamp_ms":      m.TimestampMs,
		})
	}
	return map[string]any{"history": history}, nil
}

func (p *OutgoingEventProcessor) handleFetchAttachment(data json.RawMessage) (any, error) {
	var req fetchAttachmentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ValidationError{Msg: "malformed fetch_attachment payload: " + err.Error()}
	}
	att, ok := p.Attachments.Get(req.AttachmentID)
	if !ok || !att.Processable || att.LocalPath == "" {
		return nil, &AttachmentError{Msg: "attachment not available", Err: fmt.Errorf("%s", req.AttachmentID)}
	}
	raw, err := os.ReadFile(att.LocalPath)
	if err != nil {
		return nil, &AttachmentError{Msg: "failed to read cached attachment", Err: err}
	}
	return att.ToDescriptor(base64.StdEncoding.EncodeToString(raw)), nil
}
