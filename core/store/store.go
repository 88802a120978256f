package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"log/slog"

	"github.com/scwee/autogift/core/gifts"
	"github.com/scwee/autogift/core/logger"
)

// Store owns the config document and serializes access to it.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads the document at path, creating it with defaults when absent.
// Missing keys are filled from defaults so older documents keep working.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: defaultDocument()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.saveLocked(); err != nil {
			return nil, fmt.Errorf("store: create document: %w", err)
		}
		logger.Info(logger.Background(), "doc", "doc.create", slog.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: read document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse document %s: %w", path, err)
	}
	mergeDefaults(&doc)
	s.doc = doc

	logger.Info(logger.Background(), "doc", "doc.load",
		slog.String("path", path),
		slog.Int("count", len(doc.LotMapping)),
		slog.Int("orders", len(doc.History)),
	)
	return s, nil
}

// Save persists the current document to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked writes atomically via a temp file so a crash mid-write cannot
// truncate the operator's document.
func (s *Store) saveLocked() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.doc, "", "    ")
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write document: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: replace document: %w", err)
	}
	return nil
}

// Credentials returns the stored API credential pair.
func (s *Store) Credentials() gifts.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gifts.Credentials{Login: s.doc.APILogin, Password: s.doc.APIPassword}
}

// SetCredentials stores and persists a new credential pair.
func (s *Store) SetCredentials(creds gifts.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.APILogin = creds.Login
	s.doc.APIPassword = creds.Password
	return s.saveLocked()
}

// AutoRefunds reports whether the automatic refund policy is enabled.
func (s *Store) AutoRefunds() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AutoRefunds
}

// SetAutoRefunds toggles the refund policy and persists the document.
func (s *Store) SetAutoRefunds(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AutoRefunds = enabled
	return s.saveLocked()
}

// Product looks up the canonical product for a lot id.
func (s *Store) Product(lotID int64) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.doc.LotMapping[strconv.FormatInt(lotID, 10)]
	if !ok {
		return Product{}, false
	}
	return entry.Product(), true
}

// Mapping returns a resolved copy of the whole lot mapping. Entries with
// non-numeric lot ids are skipped.
func (s *Store) Mapping() map[int64]Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]Product, len(s.doc.LotMapping))
	for key, entry := range s.doc.LotMapping {
		lotID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			logger.Warn(logger.Background(), "doc", "mapping.skip",
				slog.String("cause", "non-numeric lot id"),
				slog.String("lot_id", key),
			)
			continue
		}
		out[lotID] = entry.Product()
	}
	return out
}

// SetProduct adds or replaces a mapping entry and persists the document.
func (s *Store) SetProduct(lotID int64, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LotMapping[strconv.FormatInt(lotID, 10)] = MappingEntry{
		Name:   p.Name,
		Region: string(p.Region),
	}
	return s.saveLocked()
}

// DeleteProduct removes a mapping entry and persists the document.
func (s *Store) DeleteProduct(lotID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.LotMapping, strconv.FormatInt(lotID, 10))
	return s.saveLocked()
}

// Template renders the named template with {placeholder} substitution.
// Unknown or empty templates fall back to the shipped defaults; placeholders
// without a value are left as-is.
func (s *Store) Template(name string, vars map[string]string) string {
	s.mu.Lock()
	text := s.doc.Templates[name]
	s.mu.Unlock()

	if text == "" {
		text = defaultTemplates()[name]
	}
	if len(vars) == 0 {
		return text
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, val := range vars {
		pairs = append(pairs, "{"+key+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// AppendHistory appends a completed order record and persists the document
// before returning, so a dispatch is durable before the buyer sees success.
func (s *Store) AppendHistory(rec HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.History = append(s.doc.History, rec)
	return s.saveLocked()
}

// History returns a copy of the persisted order history.
func (s *Store) History() []HistoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryRecord, len(s.doc.History))
	copy(out, s.doc.History)
	return out
}
