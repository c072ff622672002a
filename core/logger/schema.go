package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

var statusValues = map[string]struct{}{
	"ok":        {},
	"fail":      {},
	"skip":      {},
	"retry":     {},
	"queued":    {},
	"dropped":   {},
	"cancelled": {},
}

var outcomeValues = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"cancelled":    {},
	"rate_limited": {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeStatus lowercases status; unknown values pass through so a typo
// is still visible in the output.
func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func validOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	_, ok := outcomeValues[outcome]
	return outcome, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"request_id",
	"submitter_id",
	"admin_id",
	"category",
	"from",
	"to",
	"mode",
	"cb_key",
	"outcome",
	"duration_ms",
	"attempt",
	"attempts",
	"batch",
	"queued",
	"delay_ms",
	"count",
	"key",
	"backend",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"backoff_ms",
}
