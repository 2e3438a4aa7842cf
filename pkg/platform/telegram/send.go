package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/platform"
)

// SendMessage posts one chunk of text (chunking to max_message_length
// already happened in OutgoingEventProcessor) and any attachments the
// caller has already uploaded. Telegram has no native "all" mention, so
// MentionSpec.All is a no-op here; individual mentions are appended as
// tg://user deep links since Telegram has no display-name mention syntax
// a bot can address by user id alone.
func (c *Client) SendMessage(ctx context.Context, conversationID, text string, mentions []platform.MentionSpec, attachments []platform.AttachmentUpload) ([]string, error) {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return nil, platform.NewPermanentError("send_message", fmt.Errorf("invalid telegram chat id %q: %w", conversationID, err))
	}

	body := appendMentions(text, mentions)

	var ids []string
	if len(attachments) == 0 {
		msg := tgbotapi.NewMessage(chatID, body)
		sent, err := c.bot.Send(msg)
		if err != nil {
			return nil, classifyTelegramError("send_message", err)
		}
		ids = append(ids, messageIDString(sent.MessageID))
		return ids, nil
	}

	// First attachment carries the caption; the rest are sent bare so the
	// text is not duplicated across every bubble in the group.
	for i, att := range attachments {
		caption := ""
		if i == 0 {
			caption = body
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(att.Ref))
		doc.Caption = caption
		sent, err := c.bot.Send(doc)
		if err != nil {
			return ids, classifyTelegramError("send_message", err)
		}
		ids = append(ids, messageIDString(sent.MessageID))
	}
	return ids, nil
}

func appendMentions(text string, mentions []platform.MentionSpec) string {
	for _, m := range mentions {
		if m.All || m.UserID == "" {
			continue
		}
		text += fmt.Sprintf(" [user](tg://user?id=%s)", m.UserID)
	}
	return text
}

func messageIDString(id int) string {
	return fmt.Sprintf("%d", id)
}

// EditMessage updates the text of a previously sent message.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("edit_message", fmt.Errorf("invalid telegram chat id %q: %w", conversationID, err))
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("edit_message", fmt.Errorf("invalid telegram message id %q: %w", messageID, err))
	}

	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	if _, err := c.bot.Send(edit); err != nil {
		return classifyTelegramError("edit_message", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("delete_message", fmt.Errorf("invalid telegram chat id %q: %w", conversationID, err))
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("delete_message", fmt.Errorf("invalid telegram message id %q: %w", messageID, err))
	}

	del := tgbotapi.NewDeleteMessage(chatID, msgID)
	if _, err := c.bot.Request(del); err != nil {
		return classifyTelegramError("delete_message", err)
	}
	return nil
}

// reactionParams builds the raw "setMessageReaction" request body.
// tgbotapi v5 predates typed reaction support, so this goes through the
// library's generic Params/Request escape hatch the way an undocumented
// Bot API method always has to.
func reactionParams(chatID int64, messageID int, emoji string, remove bool) (tgbotapi.Params, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)

	if !remove {
		reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
		if err != nil {
			return nil, err
		}
		params["reaction"] = string(reaction)
	}
	return params, nil
}

// AddReaction sets the bot's reaction on a message to a single emoji.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("add_reaction", err)
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("add_reaction", err)
	}

	params, err := reactionParams(chatID, msgID, emoji, false)
	if err != nil {
		return platform.NewPermanentError("add_reaction", err)
	}
	if _, err := c.bot.MakeRequest("setMessageReaction", params); err != nil {
		return classifyTelegramError("add_reaction", err)
	}
	return nil
}

// RemoveReaction clears the bot's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("remove_reaction", err)
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("remove_reaction", err)
	}

	params, err := reactionParams(chatID, msgID, "", true)
	if err != nil {
		return platform.NewPermanentError("remove_reaction", err)
	}
	if _, err := c.bot.MakeRequest("setMessageReaction", params); err != nil {
		return classifyTelegramError("remove_reaction", err)
	}
	return nil
}

// PinMessage pins a message in its chat.
func (c *Client) PinMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("pin_message", err)
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("pin_message", err)
	}

	pin := tgbotapi.NewPinChatMessage(chatID, msgID)
	if _, err := c.bot.Request(pin); err != nil {
		return classifyTelegramError("pin_message", err)
	}
	return nil
}

// UnpinMessage unpins a previously pinned message.
func (c *Client) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.NewPermanentError("unpin_message", err)
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return platform.NewPermanentError("unpin_message", err)
	}

	unpin := tgbotapi.NewUnpinChatMessage(chatID)
	unpin.MessageID = msgID
	if _, err := c.bot.Request(unpin); err != nil {
		return classifyTelegramError("unpin_message", err)
	}
	return nil
}

// classifyTelegramError wraps a Bot API error as Transient (network,
// rate-limit, or a 5xx from Telegram) or Permanent (the API rejected the
// operation outright, e.g. "not enough rights to pin"). The bot-api
// package surfaces API rejections as *tgbotapi.Error with a Code field;
// anything else (timeouts, connection resets) is treated as transient.
func classifyTelegramError(op string, err error) error {
	if apiErr, ok := err.(*tgbotapi.Error); ok {
		if apiErr.Code >= 500 || apiErr.Code == 429 {
			return platform.NewTransientError(op, apiErr)
		}
		return platform.NewPermanentError(op, apiErr)
	}
	return platform.NewTransientError(op, err)
}
