package webfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/afero"
)

var (
	_ afero.File  = (*File)(nil)
	_ afero.File  = (*rootDir)(nil)
	_ io.ReaderAt = (*File)(nil)
)

// File is an open handle on a registered remote file. Reads go through
// the streamer's chunk cache; all mutation operations fail with EPERM.
// Safe for concurrent ReadAt; Read/Seek share a position under a lock.
type File struct {
	fs   *FileSystem
	name string
	url  string
	ctx  context.Context

	mu     sync.Mutex
	pos    int64
	closed atomic.Bool
}

// ReadAt reads len(p) bytes at offset off. A read that ends past
// end-of-file returns the available bytes and io.EOF.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}
	n, err := f.fs.streamer.ReadAt(f.ctx, f.url, p, off)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Read reads from the current position.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

// Seek sets the position for the next Read.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = f.fs.streamer.ContentLength(f.ctx, f.url) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if f.pos < 0 {
		f.pos = 0
	}
	return f.pos, nil
}

// Stat returns the file attributes.
func (f *File) Stat() (os.FileInfo, error) {
	return f.fs.Stat(f.ctx, f.name)
}

// Name returns the file name.
func (f *File) Name() string { return f.name }

// Close releases the handle.
func (f *File) Close() error {
	f.closed.Store(true)
	return nil
}

// Sync is a no-op on a read-only file.
func (f *File) Sync() error { return nil }

func (f *File) Readdir(int) ([]os.FileInfo, error) {
	return nil, syscall.ENOTDIR
}

func (f *File) Readdirnames(int) ([]string, error) {
	return nil, syscall.ENOTDIR
}

func (f *File) Write([]byte) (int, error) { return 0, syscall.EPERM }

func (f *File) WriteAt([]byte, int64) (int, error) { return 0, syscall.EPERM }

func (f *File) WriteString(string) (int, error) { return 0, syscall.EPERM }

func (f *File) Truncate(int64) error { return syscall.EPERM }

// rootDir is the single flat directory listing all registered files.
type rootDir struct {
	fs  *FileSystem
	ctx context.Context

	mu  sync.Mutex
	off int
}

func (d *rootDir) Readdir(count int) ([]os.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	records := d.fs.registry.List()
	infos := make([]os.FileInfo, 0, len(records))
	for _, rec := range records {
		size := d.fs.streamer.ContentLength(d.ctx, rec.URL)
		infos = append(infos, fileInfo{name: rec.Name, size: size, modTime: rec.RegisteredAt})
	}

	if d.off >= len(infos) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	infos = infos[d.off:]
	if count > 0 && len(infos) > count {
		infos = infos[:count]
	}
	d.off += len(infos)
	return infos, nil
}

func (d *rootDir) Readdirnames(count int) ([]string, error) {
	infos, err := d.Readdir(count)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (d *rootDir) Name() string { return "/" }

func (d *rootDir) Stat() (os.FileInfo, error) { return dirInfo{}, nil }

func (d *rootDir) Close() error { return nil }

func (d *rootDir) Sync() error { return nil }

func (d *rootDir) Read([]byte) (int, error) { return 0, syscall.EISDIR }

func (d *rootDir) ReadAt([]byte, int64) (int, error) { return 0, syscall.EISDIR }

func (d *rootDir) Seek(int64, int) (int64, error) { return 0, syscall.EISDIR }

func (d *rootDir) Write([]byte) (int, error) { return 0, syscall.EISDIR }

func (d *rootDir) WriteAt([]byte, int64) (int, error) { return 0, syscall.EISDIR }

func (d *rootDir) WriteString(string) (int, error) { return 0, syscall.EISDIR }

func (d *rootDir) Truncate(int64) error { return syscall.EISDIR }
