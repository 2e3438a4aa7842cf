package outgoing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/emoji"
	"chatbridge/pkg/incoming"
	"chatbridge/pkg/platform"
	"chatbridge/pkg/ratelimit"
)

// fakeClient is a minimal platform.Client stub recording calls so tests
// can assert on what the processor sent downstream.
type fakeClient struct {
	sentTexts []string
	sentIDs   []string

	editedID, editedText     string
	deletedID                string
	pinnedID, unpinnedID     string
	addedEmoji, removedEmoji string

	nextSendErr error
	historyErr  error
}

func (f *fakeClient) Connect(ctx context.Context) error    { return nil }
func (f *fakeClient) Disconnect(ctx context.Context) error { return nil }
func (f *fakeClient) IsAlive() bool                        { return true }
func (f *fakeClient) StreamEvents() <-chan platform.RawEvent {
	ch := make(chan platform.RawEvent)
	close(ch)
	return ch
}

func (f *fakeClient) SendMessage(ctx context.Context, conversationID, text string, mentions []platform.MentionSpec, atts []platform.AttachmentUpload) ([]string, error) {
	if f.nextSendErr != nil {
		return nil, f.nextSendErr
	}
	f.sentTexts = append(f.sentTexts, text)
	id := "m" + string(rune('0'+len(f.sentTexts)))
	f.sentIDs = append(f.sentIDs, id)
	return []string{id}, nil
}
func (f *fakeClient) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	f.editedID, f.editedText = messageID, text
	return nil
}
func (f *fakeClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	f.deletedID = messageID
	return nil
}
func (f *fakeClient) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	f.addedEmoji = emoji
	return nil
}
func (f *fakeClient) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	f.removedEmoji = emoji
	return nil
}
func (f *fakeClient) PinMessage(ctx context.Context, conversationID, messageID string) error {
	f.pinnedID = messageID
	return nil
}
func (f *fakeClient) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	f.unpinnedID = messageID
	return nil
}
func (f *fakeClient) FetchHistory(ctx context.Context, conversationID string, limit int, before, after *int64) ([]platform.RawMessage, error) {
	return nil, f.historyErr
}
func (f *fakeClient) DownloadAttachment(ctx context.Context, ref platform.AttachmentRef) ([]byte, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) UploadAttachment(ctx context.Context, conversationID, name string, data []byte) (platform.AttachmentUpload, error) {
	return platform.AttachmentUpload{Ref: "uploaded-" + name}, nil
}

func newTestOutgoing(t *testing.T) (*OutgoingEventProcessor, *conversation.ConversationManager, *fakeClient) {
	t.Helper()
	users := cache.NewUserCache(0, 0)
	messages := cache.NewMessageCache(0, 0, 0)
	atts := cache.NewAttachmentCache(t.TempDir(), 0, 0)
	client := &fakeClient{}
	builder := conversation.NewDefaultMessageBuilder("telegram", attachments.NewDownloader(atts, 0))
	manager := conversation.New(users, messages, atts, builder, 8)

	conv, err := emoji.New("")
	if err != nil {
		t.Fatalf("emoji.New: %v", err)
	}

	p := &OutgoingEventProcessor{
		Manager:          manager,
		Attachments:      atts,
		Client:           client,
		PlatformType:     "telegram",
		RateLimiter:      ratelimit.New(ratelimit.Limits{}),
		Uploader:         attachments.NewUploader(t.TempDir()),
		Emoji:            conv,
		History:          incoming.NewHistoryFetcher(manager, 5, true),
		MaxMessageLength: 20,
		SupportsPinUnpin: true,
		SelfUserID:       "bot",
		Now:              time.Now,
	}
	return p, manager, client
}

func seedConversation(t *testing.T, p *OutgoingEventProcessor) (conversationID string) {
	t.Helper()
	delta, err := p.Manager.AddToConversation(context.Background(), conversation.NewMessageCtx{
		PlatformConversationID: "chat1",
		ConversationType:       "group",
		Message: conversation.IncomingMessage{
			MessageID:   "seed",
			SenderID:    "u1",
			SenderName:  "Alice",
			Text:        "hello",
			TimestampMs: time.Now().UnixMilli(),
		},
		Now: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed AddToConversation: %v", err)
	}
	return delta.ConversationID
}

func TestHandleSendSplitsLongMessages(t *testing.T) {
	p, _, client := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(sendMessageRequest{ConversationID: convID, Text: strings.Repeat("a", 45)})
	res, err := p.Handle(context.Background(), "send_message", req)
	if err != nil {
		t.Fatalf("Handle send_message: %v", err)
	}
	out := res.(map[string]any)
	ids := out["message_ids"].([]string)
	if len(ids) != 3 {
		t.Fatalf("expected a 45-char message split into 3 chunks of max 20, got %d", len(ids))
	}
	if strings.Join(client.sentTexts, "") != strings.Repeat("a", 45) {
		t.Fatalf("sent chunks do not reconstruct the original text")
	}
}

func TestHandleSendUnknownConversationFails(t *testing.T) {
	p, _, _ := newTestOutgoing(t)
	req, _ := json.Marshal(sendMessageRequest{ConversationID: "nope", Text: "hi"})
	_, err := p.Handle(context.Background(), "send_message", req)
	var notFound *ConversationNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ConversationNotFoundError, got %v", err)
	}
}

func TestHandleEditOverLongTextIsValidationError(t *testing.T) {
	p, _, _ := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(editMessageRequest{ConversationID: convID, MessageID: "seed", Text: strings.Repeat("a", 99)})
	_, err := p.Handle(context.Background(), "edit_message", req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for over-long edit, got %v", err)
	}
}

func TestHandleEditUpdatesCacheAndPlatform(t *testing.T) {
	p, manager, client := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(editMessageRequest{ConversationID: convID, MessageID: "seed", Text: "updated"})
	if _, err := p.Handle(context.Background(), "edit_message", req); err != nil {
		t.Fatalf("Handle edit_message: %v", err)
	}
	if client.editedID != "seed" || client.editedText != "updated" {
		t.Fatalf("platform client did not receive the edit: %+v", client)
	}
	cached, ok := manager.Messages.Get(convID, "seed")
	if !ok || cached.Text != "updated" {
		t.Fatalf("cache was not updated after edit")
	}
}

func TestHandleDeleteRemovesFromCache(t *testing.T) {
	p, manager, client := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(deleteMessageRequest{ConversationID: convID, MessageID: "seed"})
	if _, err := p.Handle(context.Background(), "delete_message", req); err != nil {
		t.Fatalf("Handle delete_message: %v", err)
	}
	if client.deletedID != "seed" {
		t.Fatalf("platform client did not receive the delete")
	}
	if _, ok := manager.Messages.Get(convID, "seed"); ok {
		t.Fatalf("message still present in cache after delete")
	}
}

func TestHandlePinUnsupportedIsPermanentError(t *testing.T) {
	p, _, _ := newTestOutgoing(t)
	p.SupportsPinUnpin = false
	convID := seedConversation(t, p)

	req, _ := json.Marshal(pinRequest{ConversationID: convID, MessageID: "seed"})
	_, err := p.Handle(context.Background(), "pin_message", req)
	if !platform.IsPermanent(err) {
		t.Fatalf("expected a PermanentError for unsupported pin/unpin, got %v", err)
	}
}

func TestHandlePinMarksCache(t *testing.T) {
	p, manager, client := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(pinRequest{ConversationID: convID, MessageID: "seed"})
	if _, err := p.Handle(context.Background(), "pin_message", req); err != nil {
		t.Fatalf("Handle pin_message: %v", err)
	}
	if client.pinnedID != "seed" {
		t.Fatalf("platform client did not receive the pin")
	}
	cached, ok := manager.Messages.Get(convID, "seed")
	if !ok || !cached.IsPinned {
		t.Fatalf("cache was not marked pinned")
	}
}

func TestHandleReactionAddAndRemove(t *testing.T) {
	p, _, client := newTestOutgoing(t)
	convID := seedConversation(t, p)

	req, _ := json.Marshal(reactionRequest{ConversationID: convID, MessageID: "seed", Emoji: "thumbsup"})
	if _, err := p.Handle(context.Background(), "add_reaction", req); err != nil {
		t.Fatalf("Handle add_reaction: %v", err)
	}
	if client.addedEmoji == "" {
		t.Fatalf("platform client did not receive the add_reaction call")
	}
	if _, err := p.Handle(context.Background(), "remove_reaction", req); err != nil {
		t.Fatalf("Handle remove_reaction: %v", err)
	}
	if client.removedEmoji == "" {
		t.Fatalf("platform client did not receive the remove_reaction call")
	}
}

func TestHandleUnknownEventType(t *testing.T) {
	p, _, _ := newTestOutgoing(t)
	_, err := p.Handle(context.Background(), "nonsense", json.RawMessage(`{}`))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown event_type, got %v", err)
	}
}

func TestHandleFetchHistoryRequiresBeforeOrAfter(t *testing.T) {
	p, _, _ := newTestOutgoing(t)
	convID := seedConversation(t, p)
	req, _ := json.Marshal(fetchHistoryRequest{ConversationID: convID})
	_, err := p.Handle(context.Background(), "fetch_history", req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError when neither before nor after is set, got %v", err)
	}
}
