package logger

import "strings"

// Canonical severity names as they appear in log lines.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if name, ok := levelNames[strings.ToLower(level)]; ok {
		return name
	}
	return strings.ToUpper(level)
}

// Closed vocabularies for enum-valued attributes. Values outside the
// vocabulary are rejected by the normalize helpers below.
var (
	statusValues  = enumSet("ok", "fail", "skip", "retry", "cancelled")
	cacheValues   = enumSet("hit", "miss", "refresh")
	outcomeValues = enumSet("ok", "fail", "refunded", "cancelled")
)

func enumSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func normalizeEnum(raw string, set map[string]struct{}) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", false
	}
	_, ok := set[raw]
	return raw, ok
}

func normalizeStatus(status string) (string, bool) {
	return normalizeEnum(status, statusValues)
}

func normalizeCache(cache string) (string, bool) {
	val, ok := normalizeEnum(cache, cacheValues)
	if !ok {
		return "", false
	}
	return val, true
}

func normalizeOutcome(outcome string) (string, bool) {
	val, ok := normalizeEnum(outcome, outcomeValues)
	if !ok {
		return "", false
	}
	return val, true
}

// defaultKeyOrder fixes the rendering order of known attributes. Unknown
// attributes follow alphabetically after this schema.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"order_id",
	"buyer_id",
	"chat_id",
	"lot_id",
	"handler",
	"step",
	"game",
	"region",
	"target",
	"attempt_id",
	"outcome",
	"cache",
	"duration_ms",
	"balance",
	"revenue",
	"count",
	"sessions",
	"orders",
	"http_code",
	"mode",
	"db",
	"host",
	"port",
	"path",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
}
