package callbacks

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// PayloadParts splits the payload into exactly n parts.
func PayloadParts(c tele.Context, n int) ([]string, error) {
	p := Payload(c)
	if p == "" {
		return nil, fmt.Errorf("callback payload: empty")
	}
	parts := strings.SplitN(p, Sep, n)
	if len(parts) != n {
		return nil, fmt.Errorf("callback payload %q: want %d parts", p, n)
	}
	return parts, nil
}

// PayloadInt64 parses the payload as int64.
func PayloadInt64(c tele.Context) (int64, error) {
	return strconv.ParseInt(Payload(c), 10, 64)
}
