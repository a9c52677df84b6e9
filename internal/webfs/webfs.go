// Package webfs exposes the registered remote files as a flat read-only
// filesystem. It sits between the filesystem drivers and the streamer:
// drivers open files by name, webfs resolves them through the registry
// and serves reads through the streamer's cached range-read path.
package webfs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/javi11/httpmount/internal/registry"
	"github.com/javi11/httpmount/internal/streamer"
)

// FileSystem serves the registry's files through the streamer.
type FileSystem struct {
	registry *registry.Registry
	streamer *streamer.Streamer
	logger   *slog.Logger
}

// New creates a filesystem over the given registry and streamer.
func New(reg *registry.Registry, s *streamer.Streamer, logger *slog.Logger) *FileSystem {
	return &FileSystem{
		registry: reg,
		streamer: s,
		logger:   logger,
	}
}

// Stat returns file attributes for name. The root directory is the only
// directory; everything else is a registered file whose size comes from
// the content-length probe.
func (w *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if isRoot(name) {
		return dirInfo{}, nil
	}

	rec, err := w.registry.Lookup(trimName(name))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &os.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	size := w.streamer.ContentLength(ctx, rec.URL)
	return fileInfo{name: rec.Name, size: size, modTime: rec.RegisteredAt}, nil
}

// Open opens name for reading. Opening a registered file advises the
// streamer so the opening chunks are warmed in the background.
func (w *FileSystem) Open(ctx context.Context, name string) (afero.File, error) {
	if isRoot(name) {
		return &rootDir{fs: w, ctx: context.WithoutCancel(ctx)}, nil
	}

	rec, err := w.registry.Lookup(trimName(name))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	w.streamer.Open(ctx, rec.URL)

	return &File{
		fs:   w,
		name: rec.Name,
		url:  rec.URL,
		// Reads outlive the open call; keep its values, not its deadline.
		ctx: context.WithoutCancel(ctx),
	}, nil
}

func isRoot(name string) bool {
	return name == "" || name == "/" || name == "."
}

func trimName(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

// fileInfo describes one registered file.
type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (i fileInfo) Name() string { return i.name }

func (i fileInfo) Size() int64 { return i.size }

func (i fileInfo) Mode() os.FileMode { return 0o444 }

func (i fileInfo) ModTime() time.Time { return i.modTime }

func (i fileInfo) IsDir() bool { return false }

func (i fileInfo) Sys() any { return nil }

// dirInfo describes the root directory.
type dirInfo struct{}

func (dirInfo) Name() string { return "/" }

func (dirInfo) Size() int64 { return 0 }

func (dirInfo) Mode() os.FileMode { return 0o755 | os.ModeDir }

func (dirInfo) ModTime() time.Time { return time.Time{} }

func (dirInfo) IsDir() bool { return true }

func (dirInfo) Sys() any { return nil }
