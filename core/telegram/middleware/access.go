package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions defines how admin-only checks behave.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// IsAdmin reports whether the update was sent by adminID.
func IsAdmin(c tele.Context, adminID int64) bool {
	u := c.Sender()
	return adminID != 0 && u != nil && u.ID == adminID
}

// AdminOnlyMiddleware lets only the admin reach next. Others get OnReject,
// if set. Without a configured admin every sender is rejected.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if !IsAdmin(c, opts.AdminID) {
				if opts.OnReject != nil {
					return opts.OnReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
