package helpers

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DisplayName is the best human label for u: full name, then @username,
// then the numeric id.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "id" + strconv.FormatInt(u.ID, 10)
}
