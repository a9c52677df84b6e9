package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/httpmount/internal/origin"
	"github.com/javi11/httpmount/internal/registry"
	"github.com/javi11/httpmount/internal/streamer"
	"github.com/javi11/httpmount/internal/webfs"
)

func testHandle(t *testing.T) (*Handle, []byte) {
	t.Helper()

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(data)))
			w.WriteHeader(http.StatusOK)
			return
		}
		var start, end int64
		if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start : end+1])
	}))
	t.Cleanup(srv.Close)

	pool := origin.NewPool(origin.PoolConfig{}, slog.Default())
	t.Cleanup(pool.Stop)
	fetcher := origin.NewFetcher(pool, origin.FetcherConfig{Timeout: 5 * time.Second})

	core, err := streamer.New(streamer.Config{ChunkSize: 64, CacheSlots: 16}, pool, fetcher, slog.Default())
	require.NoError(t, err)
	t.Cleanup(core.Stop)

	reg := registry.New(slog.Default())
	_, err = reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	wfs := webfs.New(reg, core, slog.Default())
	file, err := wfs.Open(context.Background(), "movie.mkv")
	require.NoError(t, err)

	return &Handle{file: file, name: "movie.mkv", logger: slog.Default()}, data
}

func TestHandle_Read(t *testing.T) {
	h, data := testHandle(t)
	defer h.Release(context.Background())

	dest := make([]byte, 100)
	res, errno := h.Read(context.Background(), dest, 100)
	require.Equal(t, syscall.Errno(0), errno)

	buf, status := res.Bytes(nil)
	require.Equal(t, gofuse.OK, status)
	assert.Equal(t, data[100:200], buf)
}

func TestHandle_Read_ShortAtEOF(t *testing.T) {
	h, data := testHandle(t)
	defer h.Release(context.Background())

	dest := make([]byte, 100)
	res, errno := h.Read(context.Background(), dest, 1020)
	require.Equal(t, syscall.Errno(0), errno)

	buf, status := res.Bytes(nil)
	require.Equal(t, gofuse.OK, status)
	assert.Equal(t, data[1020:], buf)
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	h, _ := testHandle(t)

	assert.Equal(t, syscall.Errno(0), h.Release(context.Background()))
	assert.Equal(t, syscall.Errno(0), h.Release(context.Background()))

	// Reads after release fail cleanly.
	_, errno := h.Read(context.Background(), make([]byte, 1), 0)
	assert.Equal(t, syscall.EIO, errno)
}

func TestFillAttr_File(t *testing.T) {
	info := fakeInfo{name: "movie.mkv", size: 4096}
	var out gofuse.AttrOut
	fillAttr(info, &out.Attr, 1000, 1000)

	assert.Equal(t, uint64(4096), out.Attr.Size)
	assert.Equal(t, uint32(0o444|syscall.S_IFREG), out.Attr.Mode)
	assert.Equal(t, uint32(1000), out.Attr.Uid)
}

type fakeInfo struct {
	name string
	size int64
	dir  bool
}

func (f fakeInfo) Name() string { return f.name }

func (f fakeInfo) Size() int64 { return f.size }

func (f fakeInfo) Mode() os.FileMode { return 0o444 }

func (f fakeInfo) ModTime() time.Time { return time.Unix(0, 0) }

func (f fakeInfo) IsDir() bool { return f.dir }

func (f fakeInfo) Sys() any { return nil }
