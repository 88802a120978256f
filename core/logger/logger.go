// Package logger is the structured logging stack: a slog front-end over a
// line-oriented handler with deterministic key order, asynchronous sinks,
// and order-scoped correlation carried through context.
package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/scwee/autogift/core/buildinfo"
	coreconfig "github.com/scwee/autogift/core/config"
)

var (
	initOnce   sync.Once
	shutdownMu sync.Mutex
	shutdowned bool

	logWriter  *asyncWriter
	logClosers []io.Closer

	levelVar slog.LevelVar

	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool

	// L is the base logger shared by components that do not carry a context.
	L *slog.Logger

	// DB logs database-related events.
	DB *slog.Logger
	// MIG logs database migration events.
	MIG *slog.Logger
	// TG logs operator bot transport events.
	TG *slog.Logger
	// API logs gifting API calls.
	API *slog.Logger
	// AUTH logs token acquisition and refresh.
	AUTH *slog.Logger
	// ENG logs conversation engine transitions.
	ENG *slog.Logger
	// LED logs order ledger activity.
	LED *slog.Logger
	// DOC logs config document load/save operations.
	DOC *slog.Logger

	// componentLoggers lets Component reuse the prebuilt loggers above
	// instead of allocating a new child per call.
	componentLoggers map[string]*slog.Logger
)

// InitLogger configures the global structured logger. Repeated calls are
// no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		levelVar.Set(pickLevel(cfg))
		debugSampler.Set(pickDebugSample(cfg))
		traceOverride = envFlag("TRACE") || envFlag("LOG_TRACE")

		outputs, closers := openSinks(cfg)
		logClosers = closers
		logWriter = newAsyncWriter(outputs, 64*1024)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   logWriter,
			format:   pickFormat(cfg),
			keyOrder: pickKeyOrder(cfg),
		}))
		slog.SetDefault(L)

		DB = L.With("component", "db")
		MIG = L.With("component", "db.migrate")
		TG = L.With("component", "tg")
		API = L.With("component", "gifts.api")
		AUTH = L.With("component", "gifts.auth")
		ENG = L.With("component", "engine")
		LED = L.With("component", "ledger")
		DOC = L.With("component", "doc")

		componentLoggers = map[string]*slog.Logger{
			"db":         DB,
			"db.migrate": MIG,
			"tg":         TG,
			"gifts.api":  API,
			"gifts.auth": AUTH,
			"engine":     ENG,
			"ledger":     LED,
			"doc":        DOC,
		}

		L.LogAttrs(context.Background(), slog.LevelInfo, "startup",
			slog.String("component", "app"),
			slog.String("event", "startup"),
			slog.String("go_version", runtime.Version()),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
		)
	})
	return nil
}

// Shutdown drains the async writer and closes any file sinks. Safe to
// call more than once.
func Shutdown() error {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if shutdowned {
		return nil
	}
	shutdowned = true

	var errs []error
	if logWriter != nil {
		errs = append(errs, logWriter.Flush(), logWriter.Close())
	}
	for _, c := range logClosers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func pickFormat(cfg *coreconfig.Config) logFormat {
	if cfg == nil {
		return formatJSON
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	// Unset: debug/dev profiles get the human-readable form.
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Profile)) {
	case "debug", "dev":
		return formatKV
	}
	return formatJSON
}

func pickKeyOrder(cfg *coreconfig.Config) []string {
	fallback := func() []string { return append([]string(nil), defaultKeyOrder...) }
	if cfg == nil {
		return fallback()
	}
	raw := strings.TrimSpace(cfg.Logging.KeysOrder)
	if raw == "" || raw == "default" {
		return fallback()
	}
	var order []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			order = append(order, key)
		}
	}
	if len(order) == 0 {
		return fallback()
	}
	return order
}

func pickLevel(cfg *coreconfig.Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func pickDebugSample(cfg *coreconfig.Config) (int, int) {
	if cfg == nil || strings.TrimSpace(cfg.Logging.DebugSample) == "" {
		return 1, 50
	}
	num, den := parseRatioSpec(cfg.Logging.DebugSample)
	if num == 0 && den == 0 {
		return 0, 0
	}
	if num <= 0 || den <= 0 {
		return 1, 50
	}
	return num, den
}

// openSinks always includes stdout and optionally an append-mode log file.
// File problems are reported on stderr and never fail startup.
func openSinks(cfg *coreconfig.Config) ([]io.Writer, []io.Closer) {
	writers := []io.Writer{os.Stdout}
	if cfg == nil {
		return writers, nil
	}
	dir := strings.TrimSpace(cfg.Logging.Dir)
	name := strings.TrimSpace(cfg.Logging.BotFile)
	if dir == "" || name == "" {
		return writers, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("logger: create log dir %s: %v", dir, err)
		return writers, nil
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("logger: open log file %s: %v", path, err)
		return writers, nil
	}
	return append(writers, f), []io.Closer{f}
}

func envFlag(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// Background returns context.Background(); provided for symmetry with
// context-first call sites.
func Background() context.Context {
	return context.Background()
}

// LogEvent logs attrs at level, ensuring the event attribute is present.
// A nil logger falls back to the context logger, then the base logger.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	switch {
	case logg != nil:
	case FromContext(ctx) != nil:
		logg = FromContext(ctx)
	case L != nil:
		logg = L
	default:
		return
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns a child logger carrying the given component name.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return L
	}
	if logg, ok := componentLoggers[name]; ok {
		return logg
	}
	return L.With("component", name)
}

// Event is the main logging entry point used across the codebase.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	logg := Component(component)
	if logg == nil {
		if logg = FromContext(ctx); logg != nil {
			if name := strings.TrimSpace(component); name != "" {
				logg = logg.With("component", name)
			}
		}
	}
	LogEvent(ctx, logg, level, event, attrs...)
}

// Debug logs event at debug level under the named component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs event at info level under the named component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs event at warn level under the named component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs event at error level under the named component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug detail should be
// logged under the configured sampling ratio. TRACE=1 bypasses sampling.
func ShouldSampleDebug() bool {
	return traceOverride || debugSampler.Allow()
}
