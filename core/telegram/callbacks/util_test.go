package callbacks

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

type cbContext struct {
	tele.Context
	cb *tele.Callback
}

func (c cbContext) Callback() *tele.Callback { return c.cb }

func TestParse(t *testing.T) {
	cases := []struct {
		cb           *tele.Callback
		key, payload string
	}{
		{nil, "", ""},
		{&tele.Callback{Unique: "reply", Data: "1-42"}, "reply", "1-42"},
		{&tele.Callback{Data: "\freply|1-42"}, "reply", "1-42"},
		{&tele.Callback{Data: "\fsetcat|1-42|app"}, "setcat", "1-42|app"},
		{&tele.Callback{Data: "startup_ok"}, "startup_ok", ""},
	}
	for _, tc := range cases {
		k, p := Parse(tc.cb)
		if k != tc.key || p != tc.payload {
			t.Errorf("Parse(%+v) = %q, %q; want %q, %q", tc.cb, k, p, tc.key, tc.payload)
		}
	}
}

func TestPayloadParts(t *testing.T) {
	c := cbContext{cb: &tele.Callback{Data: "\fsetcat|1-42|app"}}
	parts, err := PayloadParts(c, 2)
	if err != nil || parts[0] != "1-42" || parts[1] != "app" {
		t.Fatalf("PayloadParts = %v, %v", parts, err)
	}
	if _, err := PayloadParts(cbContext{cb: &tele.Callback{Data: "\freply|1-42"}}, 2); err == nil {
		t.Fatal("single-part payload accepted")
	}
	id, err := PayloadInt64(cbContext{cb: &tele.Callback{Data: "\fusers|42"}})
	if err != nil || id != 42 {
		t.Fatalf("PayloadInt64 = %d, %v", id, err)
	}
}
