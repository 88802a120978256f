package logger

import (
	"strings"
	"time"
)

// Status renders an error as the log status attribute value.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Took measures elapsed time since start, rounded for log output.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS clamps negative durations and rounds to whole milliseconds so
// duration attributes stay stable across runs.
func RoundMS(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings renders at most limit values as a comma-separated
// preview. The second result reports whether anything was cut off.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	shown := values
	cut := false
	if len(shown) > limit {
		shown = shown[:limit]
		cut = true
	}
	return strings.Join(shown, ", "), cut
}
