package keyboard

import "testing"

func TestInlineButtonsMixesLinksAndCallbacks(t *testing.T) {
	m := InlineButtons([]InlineBtn{
		{Text: "Open", URL: "tg://user?id=42"},
		{Text: "Reply", Unique: "reply", Data: "1-42"},
	})
	if len(m.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(m.InlineKeyboard))
	}
	link := m.InlineKeyboard[0][0]
	if link.URL != "tg://user?id=42" || link.Data != "" {
		t.Fatalf("link button = %+v", link)
	}
	cb := m.InlineKeyboard[1][0]
	if cb.URL != "" || cb.Unique != "reply" || cb.Data != "1-42" {
		t.Fatalf("callback button = %+v", cb)
	}
}

func TestInlineButtonsEmpty(t *testing.T) {
	if InlineButtons(nil) != nil {
		t.Fatal("empty keyboard should be nil")
	}
}

func TestReplyButtons(t *testing.T) {
	m := ReplyButtons([]string{"Ask"}, []string{"Help", "Cancel"})
	if !m.ResizeKeyboard || len(m.ReplyKeyboard) != 2 || len(m.ReplyKeyboard[1]) != 2 {
		t.Fatalf("reply keyboard = %+v", m.ReplyKeyboard)
	}
	if m.ReplyKeyboard[0][0].Text != "Ask" {
		t.Fatalf("first button = %+v", m.ReplyKeyboard[0][0])
	}
}
