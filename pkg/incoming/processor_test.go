package incoming

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/conversation"
	"chatbridge/pkg/emoji"
	"chatbridge/pkg/eventbus"
	"chatbridge/pkg/model"
	"chatbridge/pkg/platform"
)

type fakeClient struct{ platform.Client }

// FetchHistory returns no pages, so the history-first fetch HandleOne runs
// for a new conversation completes without a platform round-trip.
func (fakeClient) FetchHistory(ctx context.Context, conversationID string, limit int, before, after *int64) ([]platform.RawMessage, error) {
	return nil, nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []eventbus.BotRequest
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if br, ok := v.(eventbus.BotRequest); ok {
		f.sent = append(f.sent, br)
	}
	return nil
}
func (f *fakeTransport) Receive() ([]byte, error) { select {} }
func (f *fakeTransport) Close() error              { return nil }

func (f *fakeTransport) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, b := range f.sent {
		out = append(out, b.EventType)
	}
	return out
}

func newTestProcessor(t *testing.T) (*Processor, *fakeTransport, *conversation.ConversationManager) {
	t.Helper()
	users := cache.NewUserCache(0, 0)
	messages := cache.NewMessageCache(0, 0, 0)
	atts := cache.NewAttachmentCache(t.TempDir(), 0, 0)
	builder := conversation.NewDefaultMessageBuilder("telegram", attachments.NewDownloader(atts, 0))
	manager := conversation.New(users, messages, atts, builder, 8)
	conv, err := emoji.New("")
	if err != nil {
		t.Fatalf("emoji.New: %v", err)
	}

	transport := &fakeTransport{}
	bus := eventbus.New("telegram", transport, noopHandler{})

	handlers := map[string]Handler{
		"message": func(ctx context.Context, deps *Deps, ev platform.RawEvent) (*model.ConversationDelta, error) {
			msg := ev.Payload.(testMessage)
			return deps.Manager.AddToConversation(ctx, conversation.NewMessageCtx{
				PlatformType:           "telegram",
				PlatformConversationID: msg.chat,
				ConversationType:       "group",
				Client:                 &fakeClient{},
				Message: conversation.IncomingMessage{
					MessageID:   msg.id,
					SenderID:    "U1",
					SenderName:  "Alice",
					Text:        msg.text,
					TimestampMs: time.Now().UnixMilli(),
				},
				Now: time.Now(),
			})
		},
	}

	deps := &Deps{
		Manager:      manager,
		Attachments:  atts,
		Client:       &fakeClient{},
		PlatformType: "telegram",
		Emoji:        conv,
		Now:          time.Now,
	}
	history := NewHistoryFetcher(manager, 5, true)
	p := New(deps, handlers, bus, history)
	return p, transport, manager
}

type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, eventType string, data json.RawMessage) (any, error) {
	return nil, nil
}

type testMessage struct {
	chat, id, text string
}

func TestHandleOneEmitsConversationStartedThenMessageReceived(t *testing.T) {
	p, transport, _ := newTestProcessor(t)

	p.HandleOne(context.Background(), platform.RawEvent{Type: "message", Payload: testMessage{chat: "g/c", id: "m1", text: "hi"}})

	types := transport.eventTypes()
	if len(types) != 2 || types[0] != "conversation_started" || types[1] != "message_received" {
		t.Fatalf("expected [conversation_started, message_received], got %v", types)
	}
}

func TestHandleOneRedeliverySuppressesDuplicateEmission(t *testing.T) {
	p, transport, _ := newTestProcessor(t)

	p.HandleOne(context.Background(), platform.RawEvent{Type: "message", Payload: testMessage{chat: "g/c", id: "m1", text: "hi"}})
	p.HandleOne(context.Background(), platform.RawEvent{Type: "message", Payload: testMessage{chat: "g/c", id: "m1", text: "hi"}})

	if len(transport.eventTypes()) != 2 {
		t.Fatalf("expected redelivery to emit nothing further, got %v", transport.eventTypes())
	}
}

func TestHandleOneSecondMessageSkipsConversationStarted(t *testing.T) {
	p, transport, _ := newTestProcessor(t)

	p.HandleOne(context.Background(), platform.RawEvent{Type: "message", Payload: testMessage{chat: "g/c", id: "m1", text: "hi"}})
	p.HandleOne(context.Background(), platform.RawEvent{Type: "message", Payload: testMessage{chat: "g/c", id: "m2", text: "again"}})

	types := transport.eventTypes()
	if len(types) != 3 || types[2] != "message_received" {
		t.Fatalf("expected exactly one conversation_started and two message_received, got %v", types)
	}
}

func TestHandleOneUnknownEventTypeIsIgnored(t *testing.T) {
	p, transport, _ := newTestProcessor(t)
	p.HandleOne(context.Background(), platform.RawEvent{Type: "unknown", Payload: nil})
	if len(transport.eventTypes()) != 0 {
		t.Fatalf("expected no emission for an unregistered event type, got %v", transport.eventTypes())
	}
}
