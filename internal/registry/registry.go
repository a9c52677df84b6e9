// Package registry maintains the mapping from local filenames to remote URLs.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a filename has no registered URL.
	ErrNotFound = errors.New("file not registered")
	// ErrAlreadyRegistered is returned when a filename is re-registered
	// with a different URL.
	ErrAlreadyRegistered = errors.New("filename already registered with a different URL")
	// ErrInvalidName is returned for filenames that cannot be exposed as
	// directory entries.
	ErrInvalidName = errors.New("invalid filename")
)

// FileRecord describes one registered file. Records persist until
// process exit; the content length is probed lazily by the streamer.
type FileRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the in-memory filename -> URL table. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	files  map[string]FileRecord
	logger *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		files:  make(map[string]FileRecord),
		logger: logger,
	}
}

// Register adds a filename -> URL mapping. Registration is additive:
// registering the same name with the same URL is a no-op, while a
// different URL for an existing name is rejected.
func (r *Registry) Register(name, url string) (FileRecord, error) {
	if err := validateName(name); err != nil {
		return FileRecord{}, err
	}
	if url == "" {
		return FileRecord{}, fmt.Errorf("%w: empty URL for %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.files[name]; ok {
		if existing.URL == url {
			return existing, nil
		}
		return FileRecord{}, fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}

	rec := FileRecord{
		ID:           uuid.NewString(),
		Name:         name,
		URL:          url,
		RegisteredAt: time.Now(),
	}
	r.files[name] = rec

	r.logger.Info("Registered file", "name", name, "url", url, "id", rec.ID)
	return rec, nil
}

// Lookup returns the record for a filename.
func (r *Registry) Lookup(name string) (FileRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.files[name]
	if !ok {
		return FileRecord{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return rec, nil
}

// URL returns the registered URL for a filename.
func (r *Registry) URL(name string) (string, error) {
	rec, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return rec.URL, nil
}

// List returns all records sorted by name.
func (r *Registry) List() []FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FileRecord, 0, len(r.files))
	for _, rec := range r.files {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
