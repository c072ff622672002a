package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/m3rciful/curatorbot/relay/request"
)

func TestWebLink(t *testing.T) {
	cases := []struct {
		id       int64
		username string
		want     string
	}{
		{42, "alice", "https://t.me/alice"},
		{42, "@alice", "https://t.me/alice"},
		{42, "", "https://t.me/user?id=42"},
		{42, "  ", "https://t.me/user?id=42"},
	}
	for _, tc := range cases {
		if got := WebLink(tc.id, tc.username); got != tc.want {
			t.Errorf("WebLink(%d, %q) = %q, want %q", tc.id, tc.username, got, tc.want)
		}
	}
	if got := DialogLink(42); got != "tg://user?id=42" {
		t.Errorf("DialogLink = %q", got)
	}
}

func TestWithURLSwapsOnlyMatchingAction(t *testing.T) {
	r := request.Request{ID: "1-42", SubmitterID: 42}
	in := AdminActions(r)
	out := WithURL(in, DialogLink(42), WebLink(42, ""))
	if out[0].URL != "https://t.me/user?id=42" {
		t.Fatalf("dialog action URL = %q", out[0].URL)
	}
	if in[0].URL != DialogLink(42) {
		t.Fatal("WithURL modified its input")
	}
	if out[1].Key != KeyReply || out[1].Payload != "1-42" {
		t.Fatalf("reply action changed: %+v", out[1])
	}
}

func TestAdminSummaryMentionsSubmitterAndCommands(t *testing.T) {
	r := request.Request{
		ID:                "1777626000000-42",
		SubmitterID:       42,
		SubmitterLabel:    "Alice",
		SubmitterUsername: "alice",
		Category:          request.CategoryApp,
		Text:              "How do I log in?",
	}
	s := AdminSummary(r)
	for _, want := range []string{"Alice (@alice, ID: 42)", "Using the app", "How do I log in?", "/direct 42", "/dm 42"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestCategoryActionsPayloads(t *testing.T) {
	plain := CategoryActions(KeyCategory, "")
	if len(plain) != len(request.Categories()) || plain[0].Payload != "homework" {
		t.Fatalf("plain picker = %+v", plain)
	}
	scoped := CategoryActions(KeySetCategory, "1-42")
	if scoped[1].Payload != "1-42|app" || scoped[1].Key != KeySetCategory {
		t.Fatalf("scoped picker = %+v", scoped[1])
	}
}

func TestHumanDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{30 * time.Minute, "30m 0s"},
		{26*time.Hour + 5*time.Second, "1d 2h 0m 5s"},
	}
	for _, tc := range cases {
		if got := HumanDuration(tc.d); got != tc.want {
			t.Errorf("HumanDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
