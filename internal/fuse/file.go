package fuse

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/javi11/httpmount/internal/webfs"
)

// ensure File implements fs.Node* interfaces
var _ fs.NodeOpener = (*File)(nil)
var _ fs.NodeGetattrer = (*File)(nil)
var _ fs.NodeReader = (*File)(nil)

// File represents one registered remote file in the FUSE tree.
type File struct {
	fs.Inode
	webfs  *webfs.FileSystem
	name   string
	logger *slog.Logger
	uid    uint32
	gid    uint32
}

// Getattr implements fs.NodeGetattrer.
func (f *File) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := f.webfs.Stat(ctx, f.name)
	if err != nil {
		if os.IsNotExist(err) {
			return syscall.ENOENT
		}
		f.logger.ErrorContext(ctx, "Getattr failed", "name", f.name, "error", err)
		return syscall.EIO
	}

	fillAttr(info, &out.Attr, f.uid, f.gid)
	out.Ino = f.Inode.StableAttr().Ino
	return 0
}

// Open implements fs.NodeOpener. Only read-only access is supported;
// opening also triggers the streamer's warmup for the leading chunks.
func (f *File) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, 0, syscall.EACCES
	}

	file, err := f.webfs.Open(ctx, f.name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, syscall.ENOENT
		}
		f.logger.ErrorContext(ctx, "Open failed", "name", f.name, "error", err)
		return nil, 0, syscall.EIO
	}

	handle := &Handle{
		file:   file,
		name:   f.name,
		logger: f.logger,
	}
	return handle, fuse.FOPEN_KEEP_CACHE, 0
}

// Read implements fs.NodeReader.
func (f *File) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle := fh.(*Handle)
	return handle.Read(ctx, dest, off)
}
