package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as single lines with a deterministic
// key order: schema keys first, everything else alphabetical.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}

	ts := r.Time.UTC()
	rec := map[string]any{
		"ts":    ts.Truncate(time.Millisecond).Format(timeFormatMillis),
		"level": normalizeLevel(r.Level.String()),
	}
	if h.cfg.format == formatJSON {
		rec["ts_unix_nano"] = ts.UnixNano()
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		h.addAttr(rec, prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.addAttr(rec, prefix, a)
		return true
	})

	fillFromContext(ctx, rec)
	h.finalize(rec, r.Message)

	line, err := h.render(rec)
	if err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	return h.cfg.writer.Write(line)
}

// finalize applies the record-level schema rules: mandatory event and
// component, rid compaction, enum whitelists, and empty-value pruning.
func (h *structuredHandler) finalize(rec map[string]any, message string) {
	if rid, _ := asString(rec["rid"]); rid != "" {
		if compact := CompactRID(rid); compact != "" && compact != rid {
			if h.cfg.format == formatJSON {
				if _, dup := rec["rid_full"]; !dup {
					rec["rid_full"] = rid
				}
			}
			rec["rid"] = compact
		}
	}

	if ev, _ := asString(rec["event"]); ev == "" {
		if message != "" {
			rec["event"] = message
		} else {
			rec["event"] = "unknown"
		}
	}
	if comp, _ := asString(rec["component"]); comp == "" {
		rec["component"] = "app"
	}

	if s, ok := asString(rec["status"]); ok && s != "" {
		if canon, valid := normalizeStatus(s); valid {
			rec["status"] = canon
		}
	}
	if c, ok := asString(rec["cache"]); ok && c != "" {
		canon, valid := normalizeCache(c)
		if valid {
			rec["cache"] = canon
		} else {
			delete(rec, "cache")
		}
	}
	if o, ok := asString(rec["outcome"]); ok && o != "" {
		canon, valid := normalizeOutcome(o)
		if valid {
			rec["outcome"] = canon
		} else {
			delete(rec, "outcome")
		}
	}

	for k, v := range rec {
		if v == nil {
			delete(rec, k)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			delete(rec, k)
		}
	}
}

func (h *structuredHandler) addAttr(rec map[string]any, prefix string, attr slog.Attr) {
	key := attr.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, child := range attr.Value.Group() {
			h.addAttr(rec, key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := coerceValue(key, attr.Value); ok {
		rec[k] = v
	}
}

// coerceValue maps a slog value to a loggable scalar. Durations are
// rendered as millisecond integers under a *_ms key.
func coerceValue(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u > math.MaxInt64 {
			return key, u, true
		}
		return key, int64(val.Uint64()), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return millisKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	case slog.KindAny:
		switch x := val.Any().(type) {
		case nil:
			return key, nil, false
		case error:
			return key, x.Error(), true
		case string:
			return key, strings.TrimSpace(x), true
		case time.Duration:
			return millisKey(key), RoundMS(x).Milliseconds(), true
		case fmt.Stringer:
			return key, x.String(), true
		default:
			return key, fmt.Sprint(x), true
		}
	default:
		return key, val.Any(), true
	}
}

func millisKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return strings.TrimSuffix(key, "_duration") + "_duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

// fillFromContext copies order-scoped correlation values into the record
// unless the call site already set them explicitly.
func fillFromContext(ctx context.Context, rec map[string]any) {
	if ctx == nil {
		return
	}
	setIfAbsent := func(key string, v any) {
		if _, ok := rec[key]; !ok {
			rec[key] = v
		}
	}
	if rid := RIDFrom(ctx); rid != "" {
		setIfAbsent("rid", rid)
	}
	if id := OrderIDFrom(ctx); id != 0 {
		setIfAbsent("order_id", id)
	}
	if id := BuyerIDFrom(ctx); id != 0 {
		setIfAbsent("buyer_id", id)
	}
	if id := ChatIDFrom(ctx); id != 0 {
		setIfAbsent("chat_id", id)
	}
	if name := HandlerFrom(ctx); name != "" {
		setIfAbsent("handler", name)
	}
}

func (h *structuredHandler) render(rec map[string]any) ([]byte, error) {
	keys := orderKeys(rec, h.cfg.keyOrder)
	if h.cfg.format == formatJSON {
		return renderJSON(rec, keys)
	}
	return renderKV(rec, keys), nil
}

// orderKeys returns schema keys in their configured order followed by the
// remaining keys alphabetically.
func orderKeys(rec map[string]any, order []string) []string {
	keys := make([]string, 0, len(rec))
	taken := make(map[string]struct{}, len(rec))
	for _, k := range order {
		if _, ok := rec[k]; ok {
			keys = append(keys, k)
			taken[k] = struct{}{}
		}
	}
	head := len(keys)
	for k := range rec {
		if _, ok := taken[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys[head:])
	return keys
}

func renderJSON(rec map[string]any, keys []string) ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		data, err := json.Marshal(rec[k])
		if err != nil {
			return nil, err
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func renderKV(rec map[string]any, keys []string) []byte {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(rec[k]))
	}
	return []byte(b.String())
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if strings.IndexFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}
