package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrWriteFailed wraps any failure to persist the alert log.
var ErrWriteFailed = errors.New("alert store write failed")

// FileStore implements Store on top of a single JSON file.
// Every read re-parses the whole file and every append rewrites it.
type FileStore struct {
	path string
	log  zerolog.Logger
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path: path,
		log:  logger.With().Str("component", "alertstore").Str("path", path).Logger(),
	}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Init creates the backing file holding an empty list when it does not exist yet.
func (s *FileStore) Init() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat alert file: %w", err)
	}

	s.log.Info().Msg("initializing empty alert file")
	return s.write([]Alert{})
}

// LoadAll reads the whole file. Unreadable or malformed content is treated as an empty log.
func (s *FileStore) LoadAll(_ context.Context) []Alert {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Debug().Err(err).Msg("read alert file failed, treating as empty")
		return []Alert{}
	}

	var alerts []Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		s.log.Debug().Err(err).Msg("parse alert file failed, treating as empty")
		return []Alert{}
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts
}

// NextID is the current length of the log plus one.
func (s *FileStore) NextID(ctx context.Context) int {
	return len(s.LoadAll(ctx)) + 1
}

// Append reads the current log, appends a and rewrites the file.
// Concurrent callers are not coordinated here; the last writer wins.
func (s *FileStore) Append(ctx context.Context, a Alert) error {
	alerts := s.LoadAll(ctx)
	alerts = append(alerts, a)
	return s.write(alerts)
}

func (s *FileStore) write(alerts []Alert) error {
	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
