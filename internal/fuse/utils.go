package fuse

import (
	"os"
	"strconv"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// fillAttr populates FUSE attributes from os.FileInfo. The filesystem
// is read-only, so files never carry write bits.
func fillAttr(info os.FileInfo, out *fuse.Attr, uid, gid uint32) {
	out.Size = uint64(info.Size())
	out.Mtime = uint64(info.ModTime().Unix())
	out.Ctime = uint64(info.ModTime().Unix())
	out.Atime = uint64(info.ModTime().Unix())
	out.Uid = uid
	out.Gid = gid

	out.Blksize = 4096
	out.Blocks = (out.Size + 511) / 512

	if info.IsDir() {
		out.Mode = 0o755 | syscall.S_IFDIR
		out.Nlink = 2
	} else {
		out.Mode = 0o444 | syscall.S_IFREG
		out.Nlink = 1
	}
}

// getIDFromEnv parses a numeric ID from an environment variable with a
// default fallback.
func getIDFromEnv(key string, defaultID int) int {
	if val := os.Getenv(key); val != "" {
		if id, err := strconv.Atoi(val); err == nil {
			return id
		}
	}
	return defaultID
}
