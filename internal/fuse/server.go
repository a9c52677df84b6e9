package fuse

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/javi11/httpmount/internal/config"
	"github.com/javi11/httpmount/internal/webfs"
)

// mountProbeTimeout bounds the stat used to detect a wedged mount.
const mountProbeTimeout = 5 * time.Second

// Server manages the FUSE mount.
type Server struct {
	mountPoint string
	webfs      *webfs.FileSystem
	logger     *slog.Logger
	server     *fuse.Server
	config     config.MountConfig
}

// NewServer creates a new FUSE server instance.
func NewServer(mountPoint string, wfs *webfs.FileSystem, logger *slog.Logger, cfg config.MountConfig) *Server {
	return &Server{
		mountPoint: mountPoint,
		webfs:      wfs,
		logger:     logger,
		config:     cfg,
	}
}

// Mount mounts the filesystem and starts serving.
// This method blocks until the filesystem is unmounted.
func (s *Server) Mount() error {
	// A crashed predecessor can leave a wedged mount behind; detach it
	// before mounting or fs.Mount fails with EBUSY.
	_ = s.lazyUnmount()

	uid := uint32(getIDFromEnv("PUID", 1000))
	gid := uint32(getIDFromEnv("PGID", 1000))

	root := NewDir(s.webfs, s.logger, uid, gid)

	attrTimeout := time.Duration(s.config.AttrTimeoutSeconds) * time.Second
	entryTimeout := time.Duration(s.config.EntryTimeoutSeconds) * time.Second

	if attrTimeout == 0 {
		attrTimeout = 30 * time.Second
	}
	if entryTimeout == 0 {
		entryTimeout = 1 * time.Second
	}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther:           s.config.AllowOther,
			Name:                 "httpmount",
			FsName:               "httpmount",
			Debug:                s.config.Debug,
			MaxReadAhead:         s.config.MaxReadAheadMB * 1024 * 1024,
			DisableXAttrs:        true,
			IgnoreSecurityLabels: true,
		},
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &entryTimeout,
	}

	server, err := fs.Mount(s.mountPoint, root, opts)
	if err != nil {
		return fmt.Errorf("failed to mount FUSE filesystem: %w", err)
	}

	s.server = server
	s.logger.Info("FUSE filesystem mounted", "mountpoint", s.mountPoint)

	// Block until unmount
	s.server.Wait()
	return nil
}

// Unmount detaches the filesystem. An open stream keeps the mount busy
// and makes the kernel refuse a plain unmount, so the fallback is a
// lazy detach: the mountpoint disappears now and the kernel finishes
// once the last handle closes.
func (s *Server) Unmount() error {
	s.logger.Info("Unmounting", "mountpoint", s.mountPoint)

	if s.server != nil {
		err := s.server.Unmount()
		if err == nil {
			return nil
		}
		s.logger.Warn("Kernel refused unmount, detaching lazily",
			"mountpoint", s.mountPoint, "error", err)
	}

	return s.lazyUnmount()
}

// lazyUnmount detaches the mountpoint with whatever helper the platform
// ships. Linux installs fusermount or fusermount3 depending on the fuse
// package generation; macOS has neither and needs diskutil.
func (s *Server) lazyUnmount() error {
	commands := [][]string{
		{"fusermount3", "-uz", s.mountPoint},
		{"fusermount", "-uz", s.mountPoint},
		{"umount", "-l", s.mountPoint},
	}
	if runtime.GOOS == "darwin" {
		commands = [][]string{
			{"umount", "-f", s.mountPoint},
			{"diskutil", "unmount", "force", s.mountPoint},
		}
	}

	var lastErr error
	for _, cmd := range commands {
		err := exec.Command(cmd[0], cmd[1:]...).Run()
		if err == nil {
			s.logger.Info("Detached mountpoint", "mountpoint", s.mountPoint, "helper", cmd[0])
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("lazy unmount of %s failed: %w", s.mountPoint, lastErr)
}

// ValidateMount reports whether the mountpoint answers a stat within
// mountProbeTimeout. A wedged FUSE connection blocks stat forever,
// which is exactly what the deadline detects.
func (s *Server) ValidateMount() (bool, error) {
	errc := make(chan error, 1)
	go func() {
		_, err := os.Stat(s.mountPoint)
		errc <- err
	}()

	select {
	case err := <-errc:
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", s.mountPoint, err)
		}
		return true, nil
	case <-time.After(mountProbeTimeout):
		return false, fmt.Errorf("%s did not answer stat within %s", s.mountPoint, mountProbeTimeout)
	}
}
