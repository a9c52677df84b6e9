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

// ensure Dir implements fs.Node* interfaces
var _ fs.NodeReaddirer = (*Dir)(nil)
var _ fs.NodeLookuper = (*Dir)(nil)
var _ fs.NodeGetattrer = (*Dir)(nil)

// Dir is the flat root directory listing every registered file.
type Dir struct {
	fs.Inode
	webfs  *webfs.FileSystem
	logger *slog.Logger
	uid    uint32
	gid    uint32
}

// NewDir creates the root directory node for the FUSE filesystem.
func NewDir(wfs *webfs.FileSystem, logger *slog.Logger, uid, gid uint32) *Dir {
	return &Dir{
		webfs:  wfs,
		logger: logger,
		uid:    uid,
		gid:    gid,
	}
}

// Getattr implements fs.NodeGetattrer.
func (d *Dir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = 0o755 | syscall.S_IFDIR
	out.Uid = d.uid
	out.Gid = d.gid
	out.Ino = 1
	return 0
}

// Lookup implements fs.NodeLookuper. The tree is flat: every entry
// under the root is a registered file.
func (d *Dir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	info, err := d.webfs.Stat(ctx, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		d.logger.ErrorContext(ctx, "Lookup failed", "name", name, "error", err)
		return nil, syscall.EIO
	}

	fillAttr(info, &out.Attr, d.uid, d.gid)

	node := &File{
		webfs:  d.webfs,
		name:   name,
		logger: d.logger,
		uid:    d.uid,
		gid:    d.gid,
	}
	return d.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// Readdir implements fs.NodeReaddirer.
func (d *Dir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	dir, err := d.webfs.Open(ctx, "/")
	if err != nil {
		d.logger.ErrorContext(ctx, "Readdir open failed", "error", err)
		return nil, syscall.EIO
	}
	defer dir.Close()

	infos, err := dir.Readdir(-1)
	if err != nil {
		d.logger.ErrorContext(ctx, "Readdir failed", "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, fuse.DirEntry{
			Name: info.Name(),
			Mode: uint32(info.Mode()) | syscall.S_IFREG,
		})
	}

	return fs.NewListDirStream(entries), 0
}
