package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrOutsideRoot = errors.New("path escapes storage root")
	ErrNotFound    = errors.New("stored file not found")
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Store persists submission files under a single root directory, one
// subdirectory per activity. Paths handed back are always relative to the
// root so database rows survive a root relocation.
type Store interface {
	Save(activityID, originalName string, r io.Reader) (path string, size int64, err error)
	Open(path string) (io.ReadCloser, error)
	// AbsPath maps a stored relative path to its absolute location, for
	// parsers that need a real file on disk.
	AbsPath(path string) (string, error)
	Delete(path string) error
}

type localStore struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time
}

func NewLocalStore(root string, logger zerolog.Logger) (Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	return &localStore{
		root:   abs,
		logger: logger.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}, nil
}

func (s *localStore) Save(activityID, originalName string, r io.Reader) (string, int64, error) {
	dir := sanitize(activityID)
	if dir == "" {
		dir = "misc"
	}
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", 0, fmt.Errorf("create activity dir: %w", err)
	}

	name := fmt.Sprintf("%d_%s", s.now().UnixNano(), sanitize(originalName))
	rel := filepath.Join(dir, name)

	abs, err := s.resolve(rel)
	if err != nil {
		return "", 0, err
	}

	f, err := os.Create(abs)
	if err != nil {
		return "", 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(abs)
		return "", 0, fmt.Errorf("write file: %w", err)
	}

	s.logger.Debug().Str("path", rel).Int64("size", size).Msg("file stored")

	return rel, size, nil
}

func (s *localStore) Open(path string) (io.ReadCloser, error) {
	abs, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

func (s *localStore) AbsPath(path string) (string, error) {
	return s.resolve(path)
}

func (s *localStore) Delete(path string) error {
	abs, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}

	return nil
}

// resolve joins a relative path onto the root and rejects anything that would
// land outside it.
func (s *localStore) resolve(rel string) (string, error) {
	abs := filepath.Join(s.root, rel)
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}
