package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chatbridge/pkg/platform"
)

func TestChatIDOfParsesValidID(t *testing.T) {
	id, err := chatIDOf("-1001234567890")
	if err != nil {
		t.Fatalf("chatIDOf: %v", err)
	}
	if id != -1001234567890 {
		t.Fatalf("chatIDOf() = %d, want -1001234567890", id)
	}
}

func TestChatIDOfRejectsNonNumeric(t *testing.T) {
	if _, err := chatIDOf("not-a-chat-id"); err == nil {
		t.Fatal("expected error for non-numeric conversation id")
	}
}

func TestMessageIDOfRoundTrips(t *testing.T) {
	id, err := messageIDOf(messageIDString(42))
	if err != nil {
		t.Fatalf("messageIDOf: %v", err)
	}
	if id != 42 {
		t.Fatalf("messageIDOf() = %d, want 42", id)
	}
}

func TestAppendMentionsSkipsAllAndEmptyUserID(t *testing.T) {
	got := appendMentions("hello", []platform.MentionSpec{
		{All: true},
		{UserID: ""},
		{UserID: "42"},
	})
	want := "hello [user](tg://user?id=42)"
	if got != want {
		t.Fatalf("appendMentions() = %q, want %q", got, want)
	}
}

func TestReactionParamsOmitsReactionFieldOnRemove(t *testing.T) {
	params, err := reactionParams(100, 7, "", true)
	if err != nil {
		t.Fatalf("reactionParams: %v", err)
	}
	if _, ok := params["reaction"]; ok {
		t.Fatal("expected no reaction field when removing")
	}
}

func TestReactionParamsIncludesEmojiOnAdd(t *testing.T) {
	params, err := reactionParams(100, 7, "👍", false)
	if err != nil {
		t.Fatalf("reactionParams: %v", err)
	}
	if params["reaction"] == "" {
		t.Fatal("expected a reaction field when adding")
	}
}

func TestClassifyTelegramErrorTreatsRateLimitAsTransient(t *testing.T) {
	err := classifyTelegramError("send_message", &tgbotapi.Error{Code: 429, Message: "Too Many Requests"})
	if !platform.IsTransient(err) {
		t.Fatalf("expected 429 to classify as transient, got %v", err)
	}
}

func TestClassifyTelegramErrorTreatsForbiddenAsPermanent(t *testing.T) {
	err := classifyTelegramError("pin_message", &tgbotapi.Error{Code: 403, Message: "not enough rights to pin a message"})
	if !platform.IsPermanent(err) {
		t.Fatalf("expected 403 to classify as permanent, got %v", err)
	}
}

func TestClassifyTelegramErrorTreatsNetworkFailureAsTransient(t *testing.T) {
	err := classifyTelegramError("send_message", errors.New("connection reset by peer"))
	if !platform.IsTransient(err) {
		t.Fatalf("expected a bare network error to classify as transient, got %v", err)
	}
}
