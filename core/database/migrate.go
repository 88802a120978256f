package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/scwee/autogift/core/logger"
)

const readyTimeout = 30 * time.Second

// migrateURL renders the postgres:// URL form of the config, which the
// migrate driver expects.
func (c Config) migrateURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// RunMigrations brings the order-history schema up to date. It waits for
// the database to accept connections first so a fresh deployment can start
// the bot and Postgres together.
func RunMigrations(cfg Config) error {
	cfg.Normalize()
	ctx := logger.Background()

	dbURL := cfg.migrateURL()
	if err := WaitReady(dbURL, readyTimeout); err != nil {
		logger.Error(ctx, "db.migrate", "db.migrate", slog.String("err", err.Error()))
		return fmt.Errorf("database not ready: %w", err)
	}

	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	files := listMigrationFiles(dir)
	logResolved(ctx, dir, files)

	m, err := migrate.New("file://"+dir, dbURL)
	if err != nil {
		logger.Error(ctx, "db.migrate", "db.migrate", slog.String("err", err.Error()))
		return fmt.Errorf("init migrations: %w", err)
	}

	fromVer, _, _ := m.Version()
	start := time.Now()
	upErr := m.Up()
	took := logger.Took(start)

	if upErr != nil && upErr != migrate.ErrNoChange {
		logger.Error(ctx, "db.migrate", "apply",
			slog.String("err", upErr.Error()),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	toVer := fromVer
	applied := 0
	if upErr == nil {
		toVer, _, _ = m.Version()
		applied = len(files)
	}
	logger.Info(ctx, "db.migrate", "summary",
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", applied),
		slog.Duration("duration", took),
	)
	return nil
}

func migrationsDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, "migrations"), nil
}

func logResolved(ctx context.Context, dir string, files []string) {
	preview, truncated := logger.SummarizeStrings(files, 6)
	attrs := []slog.Attr{
		slog.String("path", dir),
		slog.Int("files_total", len(files)),
	}
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	logger.Debug(ctx, "db.migrate", "resolve", attrs...)
}

func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
