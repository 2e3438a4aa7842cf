package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/conversation"
	"chatbridge/pkg/incoming"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

// EventHandlers returns the incoming.Handler dispatch table for every
// RawEvent.Type this Client emits (see handleUpdate/bufferMediaGroup).
// It is the Telegram-specific half of spec §4.4's add/update pipeline:
// translating tgbotapi's update shapes into ConversationManager calls.
func EventHandlers() map[string]incoming.Handler {
	return map[string]incoming.Handler{
		"message":          handleMessage,
		"media_group":      handleMediaGroup,
		"edited_message":   handleEditedMessage,
		"message_reaction": handleMessageReaction,
	}
}

func handleMessage(ctx context.Context, deps *incoming.Deps, ev platform.RawEvent) (*model.ConversationDelta, error) {
	msg := ev.Payload.(*tgbotapi.Message)
	return deps.Manager.AddToConversation(ctx, conversation.NewMessageCtx{
		PlatformType:           deps.PlatformType,
		PlatformConversationID: conversationIDOf(msg.Chat.ID),
		ConversationType:       chatType(msg.Chat),
		ConversationName:       chatName(msg.Chat),
		Client:                 deps.Client,
		Message:                incomingMessageOf(msg),
		Now:                    timeOf(msg.Date, deps.Now),
	})
}

func handleMediaGroup(ctx context.Context, deps *incoming.Deps, ev platform.RawEvent) (*model.ConversationDelta, error) {
	group := ev.Payload.(*mediaGroupEvent)
	first := group.First

	im := incomingMessageOf(first)
	im.Text = group.Caption
	for _, extra := range group.Extra {
		im.AttachmentRefs = append(im.AttachmentRefs, attachmentRefsOf(extra)...)
	}

	return deps.Manager.AddToConversation(ctx, conversation.NewMessageCtx{
		PlatformType:           deps.PlatformType,
		PlatformConversationID: conversationIDOf(first.Chat.ID),
		ConversationType:       chatType(first.Chat),
		ConversationName:       chatName(first.Chat),
		Client:                 deps.Client,
		Message:                im,
		Now:                    timeOf(first.Date, deps.Now),
	})
}

func handleEditedMessage(ctx context.Context, deps *incoming.Deps, ev platform.RawEvent) (*model.ConversationDelta, error) {
	msg := ev.Payload.(*tgbotapi.Message)
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	return deps.Manager.UpdateConversation(ctx, conversation.UpdateCtx{
		PlatformConversationID: conversationIDOf(msg.Chat.ID),
		MessageID:              messageIDString(msg.MessageID),
		NewText:                &text,
		Now:                    timeOf(msg.Date, deps.Now),
	})
}

// handleMessageReaction translates Telegram's message_reaction update —
// one actor's complete reaction state, not the message's full picture —
// into a ReactionUserUpdate so the manager's per-user diff (rather than
// the full-state diffReactions path a REST-polled platform would use)
// produces the right Added/RemovedReactions.
func handleMessageReaction(ctx context.Context, deps *incoming.Deps, ev platform.RawEvent) (*model.ConversationDelta, error) {
	upd := ev.Payload.(*tgbotapi.MessageReactionUpdated)

	userID := actorID(upd)
	emojis := make([]string, 0, len(upd.NewReaction))
	for _, r := range upd.NewReaction {
		if r.Emoji != "" {
			emojis = append(emojis, r.Emoji)
		}
	}

	return deps.Manager.UpdateConversation(ctx, conversation.UpdateCtx{
		PlatformConversationID: conversationIDOf(upd.Chat.ID),
		MessageID:              messageIDString(upd.MessageID),
		ReactionUpdate: &conversation.ReactionUserUpdate{
			UserID: userID,
			Emojis: emojis,
		},
		Now: timeOf(upd.Date, deps.Now),
	})
}

func actorID(upd *tgbotapi.MessageReactionUpdated) string {
	if upd.User != nil {
		return strconv.FormatInt(upd.User.ID, 10)
	}
	if upd.ActorChat != nil {
		return strconv.FormatInt(upd.ActorChat.ID, 10)
	}
	return ""
}

func incomingMessageOf(msg *tgbotapi.Message) conversation.IncomingMessage {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	sender := msg.From
	senderID, senderName := "", ""
	if sender != nil {
		senderID = strconv.FormatInt(sender.ID, 10)
		senderName = displayName(sender)
	}

	return conversation.IncomingMessage{
		MessageID:       messageIDString(msg.MessageID),
		ThreadID:        threadIDOf(msg),
		SenderID:        senderID,
		SenderName:      senderName,
		Text:            text,
		Mentions:        mentionsOf(msg),
		AttachmentRefs:  attachmentRefsOf(msg),
		TimestampMs:     int64(msg.Date) * 1000,
		IsDirectMessage: msg.Chat.IsPrivate(),
	}
}

func displayName(u *tgbotapi.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return name
}

// threadIDOf maps a forum supergroup's topic id to a thread id; chats
// without forum topics report 0, which ThreadHandler.Resolve treats the
// same as "no thread" (spec §4.4's reply-chain fallback still applies
// within a topic via ReplyToMessage, left to DefaultThreadHandler).
func threadIDOf(msg *tgbotapi.Message) string {
	if msg.MessageThreadID != 0 {
		return strconv.Itoa(msg.MessageThreadID)
	}
	return ""
}

// mentionsOf collects only resolvable mentions: a plain "@username"
// entity carries no user id a framework could reply-mention by, so it
// is left in the text untouched; a text_mention entity always carries a
// resolved User and is reported as a mention by id.
func mentionsOf(msg *tgbotapi.Message) []string {
	entities := msg.Entities
	if len(entities) == 0 {
		entities = msg.CaptionEntities
	}
	var out []string
	for _, e := range entities {
		if e.Type == "text_mention" && e.User != nil {
			out = append(out, strconv.FormatInt(e.User.ID, 10))
		}
	}
	return out
}

// attachmentRefsOf extracts every downloadable attachment a single
// Telegram message can carry. Only one of these is ever populated per
// message (Telegram models each media kind as a distinct optional
// field), except Photo, which always carries every resolution Telegram
// generated for the same image — the highest-resolution entry is the
// one worth keeping.
func attachmentRefsOf(msg *tgbotapi.Message) []platform.AttachmentRef {
	var refs []platform.AttachmentRef

	if n := len(msg.Photo); n > 0 {
		p := msg.Photo[n-1]
		refs = append(refs, platform.AttachmentRef{Ref: p.FileID, Filename: "photo.jpg", MimeType: "image/jpeg", Size: int64(p.FileSize)})
	}
	if d := msg.Document; d != nil {
		refs = append(refs, platform.AttachmentRef{Ref: d.FileID, Filename: d.FileName, MimeType: d.MimeType, Size: int64(d.FileSize)})
	}
	if v := msg.Video; v != nil {
		refs = append(refs, platform.AttachmentRef{Ref: v.FileID, Filename: v.FileName, MimeType: v.MimeType, Size: int64(v.FileSize)})
	}
	if a := msg.Audio; a != nil {
		refs = append(refs, platform.AttachmentRef{Ref: a.FileID, Filename: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize)})
	}
	if v := msg.Voice; v != nil {
		refs = append(refs, platform.AttachmentRef{Ref: v.FileID, Filename: "voice.ogg", MimeType: v.MimeType, Size: int64(v.FileSize)})
	}
	if s := msg.Sticker; s != nil {
		refs = append(refs, platform.AttachmentRef{Ref: s.FileID, Filename: "sticker.webp", MimeType: "image/webp", Size: int64(s.FileSize)})
	}
	return refs
}

func conversationIDOf(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func chatType(chat *tgbotapi.Chat) string {
	if chat.IsPrivate() {
		return "direct"
	}
	if chat.IsSuperGroup() || chat.IsGroup() {
		return "group"
	}
	if chat.IsChannel() {
		return "channel"
	}
	return "group"
}

func chatName(chat *tgbotapi.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	return chat.UserName
}

func timeOf(unixSeconds int, fallback func() time.Time) time.Time {
	if unixSeconds <= 0 {
		if fallback != nil {
			return fallback()
		}
		return time.Now()
	}
	return time.Unix(int64(unixSeconds), 0)
}
