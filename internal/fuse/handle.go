package fuse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/afero"
)

// ensure Handle implements fs.FileReleaser
var _ fs.FileReleaser = (*Handle)(nil)

// Handle wraps an open webfs file with random-access reads.
// Uses atomic closed state to prevent double-close.
type Handle struct {
	file   afero.File
	name   string
	logger *slog.Logger
	closed atomic.Bool
}

// Read handles a read request via ReadAt on the cached read path.
func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if h.closed.Load() {
		return nil, syscall.EIO
	}

	n, err := h.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		// Context cancellation is expected (user stopped playback/closed file)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.logger.DebugContext(ctx, "Read canceled", "name", h.name, "offset", off)
			return nil, syscall.EINTR
		}

		h.logger.ErrorContext(ctx, "Read failed", "name", h.name, "offset", off, "size", len(dest), "error", err)
		return nil, syscall.EIO
	}

	return fuse.ReadResultData(dest[:n]), 0
}

// Release closes the file when the handle is released.
func (h *Handle) Release(ctx context.Context) syscall.Errno {
	if !h.closed.CompareAndSwap(false, true) {
		return 0
	}

	if h.file != nil {
		if err := h.file.Close(); err != nil {
			h.logger.ErrorContext(ctx, "Close failed", "name", h.name, "error", err)
		}
	}

	return 0
}
