package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/incoming"
	"chatbridge/pkg/platform"
)

type stubClient struct{ platform.Client }

func newTestDeps(t *testing.T) (*incoming.Deps, *conversation.ConversationManager) {
	t.Helper()
	users := cache.NewUserCache(0, 0)
	messages := cache.NewMessageCache(0, 0, 0)
	atts := cache.NewAttachmentCache(t.TempDir(), 0, 0)
	builder := conversation.NewDefaultMessageBuilder("telegram", attachments.NewDownloader(atts, 0))
	manager := conversation.New(users, messages, atts, builder, 8)

	return &incoming.Deps{
		Manager:      manager,
		Attachments:  atts,
		Client:       &stubClient{},
		PlatformType: "telegram",
		Now:          time.Now,
	}, manager
}

func TestHandleMessageCreatesConversationAndMessage(t *testing.T) {
	deps, manager := newTestDeps(t)
	msg := &tgbotapi.Message{
		MessageID: 7,
		Chat:      &tgbotapi.Chat{ID: 555, Type: "private"},
		From:      &tgbotapi.User{ID: 99, FirstName: "Alice"},
		Text:      "hello there",
		Date:      int(time.Now().Unix()),
	}

	delta, err := handleMessage(context.Background(), deps, platform.RawEvent{Type: "message", Payload: msg})
	if err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if !delta.ConversationStarted {
		t.Fatalf("expected a fresh conversation to report ConversationStarted")
	}
	if len(delta.AddedMessages) != 1 || delta.AddedMessages[0].Text != "hello there" {
		t.Fatalf("expected the message text to carry through, got %+v", delta.AddedMessages)
	}

	conv, ok := manager.ConversationByPlatformID("555")
	if !ok || conv.ConversationType != "direct" {
		t.Fatalf("expected a direct conversation registered under chat id 555, got %+v ok=%v", conv, ok)
	}
}

func TestHandleMessageResolvesTextMentionButNotBareUsername(t *testing.T) {
	deps, _ := newTestDeps(t)
	msg := &tgbotapi.Message{
		MessageID: 1,
		Chat:      &tgbotapi.Chat{ID: 1, Type: "group"},
		From:      &tgbotapi.User{ID: 2, FirstName: "Bob"},
		Text:      "hi @someone and you",
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 3, Length: 8},
			{Type: "text_mention", Offset: 16, Length: 3, User: &tgbotapi.User{ID: 42}},
		},
		Date: int(time.Now().Unix()),
	}

	delta, err := handleMessage(context.Background(), deps, platform.RawEvent{Type: "message", Payload: msg})
	if err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	mentions := delta.AddedMessages[0].Mentions
	if len(mentions) != 1 || mentions[0] != "42" {
		t.Fatalf("expected only the resolvable text_mention (42), got %v", mentions)
	}
}

func TestHandleMediaGroupMergesCaptionAndAttachmentsAcrossMessages(t *testing.T) {
	deps, _ := newTestDeps(t)
	first := &tgbotapi.Message{
		MessageID:    10,
		Chat:         &tgbotapi.Chat{ID: 1, Type: "group"},
		From:         &tgbotapi.User{ID: 2, FirstName: "Bob"},
		MediaGroupID: "g1",
		Photo:        []tgbotapi.PhotoSize{{FileID: "photo1", FileSize: 100}},
		Date:         int(time.Now().Unix()),
	}
	extra := &tgbotapi.Message{
		MessageID:    11,
		Chat:         &tgbotapi.Chat{ID: 1, Type: "group"},
		MediaGroupID: "g1",
		Photo:        []tgbotapi.PhotoSize{{FileID: "photo2", FileSize: 200}},
		Date:         int(time.Now().Unix()),
	}

	group := &mediaGroupEvent{Caption: "look at these", First: first, Extra: []*tgbotapi.Message{extra}}
	delta, err := handleMediaGroup(context.Background(), deps, platform.RawEvent{Type: "media_group", Payload: group})
	if err != nil {
		t.Fatalf("handleMediaGroup: %v", err)
	}
	added := delta.AddedMessages[0]
	if added.Text != "look at these" {
		t.Fatalf("expected the buffered caption on the merged message, got %q", added.Text)
	}
	if len(added.AttachmentIDs) != 2 {
		t.Fatalf("expected both album photos resolved as attachments, got %d", len(added.AttachmentIDs))
	}
}

func TestHandleEditedMessageUpdatesText(t *testing.T) {
	deps, _ := newTestDeps(t)
	original := &tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: 1, Type: "group"},
		From:      &tgbotapi.User{ID: 2, FirstName: "Bob"},
		Text:      "original",
		Date:      int(time.Now().Unix()),
	}
	if _, err := handleMessage(context.Background(), deps, platform.RawEvent{Type: "message", Payload: original}); err != nil {
		t.Fatalf("seed handleMessage: %v", err)
	}

	edited := &tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: 1, Type: "group"},
		Text:      "edited",
		Date:      int(time.Now().Unix()),
	}
	delta, err := handleEditedMessage(context.Background(), deps, platform.RawEvent{Type: "edited_message", Payload: edited})
	if err != nil {
		t.Fatalf("handleEditedMessage: %v", err)
	}
	if len(delta.EditedMessages) != 1 || delta.EditedMessages[0].NewText != "edited" {
		t.Fatalf("expected an edit delta with the new text, got %+v", delta.EditedMessages)
	}
}

func TestHandleMessageReactionBuildsPerUserUpdate(t *testing.T) {
	deps, _ := newTestDeps(t)
	original := &tgbotapi.Message{
		MessageID: 5,
		Chat:      &tgbotapi.Chat{ID: 1, Type: "group"},
		From:      &tgbotapi.User{ID: 2, FirstName: "Bob"},
		Text:      "react to me",
		Date:      int(time.Now().Unix()),
	}
	if _, err := handleMessage(context.Background(), deps, platform.RawEvent{Type: "message", Payload: original}); err != nil {
		t.Fatalf("seed handleMessage: %v", err)
	}

	upd := &tgbotapi.MessageReactionUpdated{
		Chat:        tgbotapi.Chat{ID: 1, Type: "group"},
		MessageID:   5,
		User:        &tgbotapi.User{ID: 77},
		NewReaction: []tgbotapi.ReactionType{{Type: "emoji", Emoji: "👍"}},
		Date:        int(time.Now().Unix()),
	}
	delta, err := handleMessageReaction(context.Background(), deps, platform.RawEvent{Type: "message_reaction", Payload: upd})
	if err != nil {
		t.Fatalf("handleMessageReaction: %v", err)
	}
	if len(delta.AddedReactions) != 1 || delta.AddedReactions[0].UserID != "77" || delta.AddedReactions[0].Emoji != "👍" {
		t.Fatalf("expected a single added reaction for user 77, got %+v", delta.AddedReactions)
	}
	if len(delta.RemovedReactions) != 0 {
		t.Fatalf("expected no removed reactions, got %+v", delta.RemovedReactions)
	}
}
