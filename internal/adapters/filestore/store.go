// Package filestore persists cache records as one JSON document per key.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cryptoDataPipe/internal/ports"
)

// Config holds configuration for the file store.
type Config struct {
	Dir    string
	Logger ports.Logger
}

// Store implements ports.DurableStore on the local filesystem. Each
// namespace is a directory, each key a <key>.json file inside it.
type Store struct {
	dir    string
	logger ports.Logger
}

var _ ports.DurableStore = (*Store)(nil)

// New creates the store directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for file store")
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "./data/cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory '%s': %w", dir, err)
	}
	cfg.Logger.Info(context.Background(), "File cache store ready", map[string]interface{}{"dir": dir})
	return &Store{dir: dir, logger: cfg.Logger}, nil
}

// safeName makes a key usable as a file name ("BTC/USDT" -> "BTC_USDT").
func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_").Replace(s)
}

func (s *Store) nsDir(namespace string) string {
	return filepath.Join(s.dir, safeName(namespace))
}

func (s *Store) path(namespace, key string) string {
	return filepath.Join(s.nsDir(namespace), safeName(key)+".json")
}

// Load reads a record. A missing file is not an error.
func (s *Store) Load(ctx context.Context, namespace, key string) (*ports.Record, error) {
	p := s.path(namespace, key)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	var rec ports.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %v", p, ports.ErrMalformedPayload, err)
	}
	if rec.Key == "" {
		rec.Key = key
	}
	return &rec, nil
}

// Save writes a record atomically (temp file + rename).
func (s *Store) Save(ctx context.Context, namespace string, rec ports.Record) error {
	dir := s.nsDir(namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	p := s.path(namespace, rec.Key)
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename to %s: %w", p, err)
	}
	s.logger.Debug(ctx, "Cache record saved", map[string]interface{}{"namespace": namespace, "key": rec.Key, "path": p})
	return nil
}

// Delete removes a record; a missing record is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	p := s.path(namespace, key)
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// Clear removes every record of a namespace.
func (s *Store) Clear(ctx context.Context, namespace string) error {
	matches, err := filepath.Glob(filepath.Join(s.nsDir(namespace), "*.json"))
	if err != nil {
		return fmt.Errorf("list %s: %w", namespace, err)
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear %s: %w", namespace, errors.Join(errs...))
	}
	s.logger.Info(ctx, "Cache namespace cleared", map[string]interface{}{"namespace": namespace, "records": len(matches)})
	return nil
}
