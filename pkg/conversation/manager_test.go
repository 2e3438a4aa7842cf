package conversation

import (
	"context"
	"testing"
	"time"

	"chatbridge/pkg/attachments"
	"chatbridge/pkg/cache"
	"chatbridge/pkg/platform"
)

type fakeClient struct {
	platform.Client
}

func newManager(t *testing.T) *ConversationManager {
	t.Helper()
	users := cache.NewUserCache(0, 0)
	messages := cache.NewMessageCache(0, 0, 0)
	atts := cache.NewAttachmentCache(t.TempDir(), 0, 0)
	builder := NewDefaultMessageBuilder("telegram", attachments.NewDownloader(atts, 0))
	return New(users, messages, atts, builder, 8)
}

func newCtx(platformConvID, messageID, text string, now time.Time) NewMessageCtx {
	return NewMessageCtx{
		PlatformType:           "telegram",
		PlatformConversationID: platformConvID,
		ConversationType:       "channel",
		Client:                 &fakeClient{},
		Message: IncomingMessage{
			MessageID:   messageID,
			SenderID:    "U1",
			SenderName:  "Alice",
			Text:        text,
			TimestampMs: now.UnixMilli(),
		},
		Now: now,
	}
}

func TestAddToConversationFirstMessageStartsConversation(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	delta, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now))
	if err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}
	if !delta.ConversationStarted {
		t.Fatal("expected ConversationStarted=true for the first message in a conversation")
	}
	if !delta.FetchHistoryNeeded {
		t.Fatal("expected FetchHistoryNeeded=true for a new conversation")
	}
	if len(delta.AddedMessages) != 1 || delta.AddedMessages[0].MessageID != "m1" {
		t.Fatalf("unexpected AddedMessages: %+v", delta.AddedMessages)
	}
	if len(delta.UpsertUsers) != 1 || delta.UpsertUsers[0].UserID != "U1" {
		t.Fatalf("unexpected UpsertUsers: %+v", delta.UpsertUsers)
	}

	conv, ok := m.ConversationByPlatformID("g/c")
	if !ok {
		t.Fatal("expected conversation to be registered")
	}
	if !conv.HasMember("U1") {
		t.Fatal("expected sender to be a known member")
	}
}

func TestAddToConversationSecondMessageDoesNotRestart(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("first AddToConversation: %v", err)
	}
	delta, err := m.AddToConversation(context.Background(), newCtx("g/c", "m2", "again", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("second AddToConversation: %v", err)
	}
	if delta.ConversationStarted {
		t.Fatal("expected ConversationStarted=false on the second message")
	}
	if delta.FetchHistoryNeeded {
		t.Fatal("expected FetchHistoryNeeded=false on the second message")
	}
}

func TestAddToConversationDuplicateMessageIDIsIdempotent(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("first AddToConversation: %v", err)
	}
	delta, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now))
	if err != nil {
		t.Fatalf("redelivered AddToConversation: %v", err)
	}
	if !delta.IsEmpty() {
		t.Fatalf("expected an empty delta on redelivery of the same message id, got %+v", delta)
	}
}

func TestUpdateConversationTextEditProducesEditedMessage(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}

	newText := "hi there"
	delta, err := m.UpdateConversation(context.Background(), UpdateCtx{
		PlatformConversationID: "g/c",
		MessageID:              "m1",
		NewText:                &newText,
		Now:                    now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	if len(delta.EditedMessages) != 1 || delta.EditedMessages[0].NewText != newText {
		t.Fatalf("unexpected EditedMessages: %+v", delta.EditedMessages)
	}
}

func TestUpdateConversationReactionDiffProducesAddAndRemove(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}

	// First reaction report: U2 reacts with thumbsup.
	delta, err := m.UpdateConversation(context.Background(), UpdateCtx{
		PlatformConversationID: "g/c",
		MessageID:              "m1",
		Reactions:              map[string][]string{"thumbsup": {"U2"}},
		Now:                    now.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("UpdateConversation (add): %v", err)
	}
	if len(delta.AddedReactions) != 1 || delta.AddedReactions[0].UserID != "U2" {
		t.Fatalf("unexpected AddedReactions: %+v", delta.AddedReactions)
	}

	// Second report: U2's reaction is gone, replaced by U3's heart.
	delta, err = m.UpdateConversation(context.Background(), UpdateCtx{
		PlatformConversationID: "g/c",
		MessageID:              "m1",
		Reactions:              map[string][]string{"heart": {"U3"}},
		Now:                    now.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("UpdateConversation (swap): %v", err)
	}
	if len(delta.RemovedReactions) != 1 || delta.RemovedReactions[0].UserID != "U2" {
		t.Fatalf("unexpected RemovedReactions: %+v", delta.RemovedReactions)
	}
	if len(delta.AddedReactions) != 1 || delta.AddedReactions[0].UserID != "U3" {
		t.Fatalf("unexpected AddedReactions: %+v", delta.AddedReactions)
	}
}

func TestUpdateConversationReactionRedeliveryIsIdempotent(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}
	upd := UpdateCtx{
		PlatformConversationID: "g/c",
		MessageID:              "m1",
		Reactions:              map[string][]string{"thumbsup": {"U2"}},
		Now:                    now.Add(time.Second),
	}
	if _, err := m.UpdateConversation(context.Background(), upd); err != nil {
		t.Fatalf("first UpdateConversation: %v", err)
	}
	delta, err := m.UpdateConversation(context.Background(), upd)
	if err != nil {
		t.Fatalf("redelivered UpdateConversation: %v", err)
	}
	if !delta.IsEmpty() {
		t.Fatalf("expected an empty delta on redelivery of the same reaction state, got %+v", delta)
	}
}

func TestUpdateConversationPinAndUnpin(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}

	pinned := true
	delta, err := m.UpdateConversation(context.Background(), UpdateCtx{
		PlatformConversationID: "g/c", MessageID: "m1", IsPinned: &pinned, Now: now,
	})
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if len(delta.Pins) != 1 {
		t.Fatalf("expected one pin, got %+v", delta.Pins)
	}

	unpinned := false
	delta, err = m.UpdateConversation(context.Background(), UpdateCtx{
		PlatformConversationID: "g/c", MessageID: "m1", IsPinned: &unpinned, Now: now,
	})
	if err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if len(delta.Unpins) != 1 {
		t.Fatalf("expected one unpin, got %+v", delta.Unpins)
	}
}

func TestDeleteFromConversationRemovesMessage(t *testing.T) {
	m := newManager(t)
	now := time.Now()
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", now)); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}

	delta, err := m.DeleteFromConversation(context.Background(), DeleteCtx{PlatformConversationID: "g/c", MessageID: "m1"})
	if err != nil {
		t.Fatalf("DeleteFromConversation: %v", err)
	}
	if len(delta.DeletedMessages) != 1 || delta.DeletedMessages[0].MessageID != "m1" {
		t.Fatalf("unexpected DeletedMessages: %+v", delta.DeletedMessages)
	}
	conv, ok := m.ConversationByPlatformID("g/c")
	if !ok {
		t.Fatal("expected conversation to still exist")
	}
	if _, ok := m.Messages.Get(conv.ConversationID, "m1"); ok {
		t.Fatal("message should be gone from the cache")
	}
}

func TestDeleteFromConversationUnknownMessageNeverFails(t *testing.T) {
	m := newManager(t)
	if _, err := m.AddToConversation(context.Background(), newCtx("g/c", "m1", "hi", time.Now())); err != nil {
		t.Fatalf("AddToConversation: %v", err)
	}

	delta, err := m.DeleteFromConversation(context.Background(), DeleteCtx{PlatformConversationID: "g/c", MessageID: "does-not-exist"})
	if err != nil {
		t.Fatalf("DeleteFromConversation: %v", err)
	}
	if !delta.IsEmpty() {
		t.Fatalf("expected an empty delta for an unknown message id, got %+v", delta)
	}
}

func TestThreadHandlerTracksMembership(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	ctx := newCtx("g/c", "root", "start a thread", now)
	ctx.Message.ThreadID = "root"
	if _, err := m.AddToConversation(context.Background(), ctx); err != nil {
		t.Fatalf("AddToConversation (root): %v", err)
	}

	reply := newCtx("g/c", "reply1", "a reply", now.Add(time.Second))
	reply.Message.ThreadID = "root"
	if _, err := m.AddToConversation(context.Background(), reply); err != nil {
		t.Fatalf("AddToConversation (reply): %v", err)
	}

	conv, ok := m.ConversationByPlatformID("g/c")
	if !ok {
		t.Fatal("expected conversation to exist")
	}
	thread, ok := conv.Threads["root"]
	if !ok {
		t.Fatal("expected thread \"root\" to be registered")
	}
	if len(thread.MemberIDs) != 2 {
		t.Fatalf("expected 2 thread members, got %d: %v", len(thread.MemberIDs), thread.MemberIDs)
	}
}
