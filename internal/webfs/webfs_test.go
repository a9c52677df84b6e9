package webfs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/httpmount/internal/origin"
	"github.com/javi11/httpmount/internal/registry"
	"github.com/javi11/httpmount/internal/streamer"
)

func patternOrigin(t *testing.T, size int) (*httptest.Server, []byte) {
	t.Helper()

	data := make([]byte, size)
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
	return srv, data
}

func testFS(t *testing.T) (*FileSystem, *registry.Registry) {
	t.Helper()

	pool := origin.NewPool(origin.PoolConfig{}, slog.Default())
	t.Cleanup(pool.Stop)
	fetcher := origin.NewFetcher(pool, origin.FetcherConfig{Timeout: 5 * time.Second})

	s, err := streamer.New(streamer.Config{
		ChunkSize:  64,
		CacheSlots: 16,
	}, pool, fetcher, slog.Default())
	require.NoError(t, err)
	t.Cleanup(s.Stop)

	reg := registry.New(slog.Default())
	return New(reg, s, slog.Default()), reg
}

func TestFileSystem_Stat(t *testing.T) {
	srv, data := patternOrigin(t, 1024)
	w, reg := testFS(t)

	_, err := reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	info, err := w.Stat(context.Background(), "/movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", info.Name())
	assert.Equal(t, int64(len(data)), info.Size())
	assert.False(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o444), info.Mode())
}

func TestFileSystem_Stat_Root(t *testing.T) {
	w, _ := testFS(t)

	info, err := w.Stat(context.Background(), "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileSystem_Stat_NotFound(t *testing.T) {
	w, _ := testFS(t)

	_, err := w.Stat(context.Background(), "/missing.mkv")
	assert.True(t, os.IsNotExist(err))
}

func TestFile_ReadAt(t *testing.T) {
	srv, data := patternOrigin(t, 1024)
	w, reg := testFS(t)
	_, err := reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	f, err := w.Open(context.Background(), "/movie.mkv")
	require.NoError(t, err)
	defer f.Close()

	p := make([]byte, 100)
	n, err := f.ReadAt(p, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, data[100:200], p)
}

func TestFile_SequentialReadAndSeek(t *testing.T) {
	srv, data := patternOrigin(t, 1024)
	w, reg := testFS(t)
	_, err := reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	f, err := w.Open(context.Background(), "/movie.mkv")
	require.NoError(t, err)
	defer f.Close()

	p := make([]byte, 64)
	n, err := f.Read(p)
	require.NoError(t, err)
	assert.Equal(t, data[:64], p[:n])

	n, err = f.Read(p)
	require.NoError(t, err)
	assert.Equal(t, data[64:128], p[:n])

	pos, err := f.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), pos)

	n, err = f.Read(p)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 24, n)
	assert.Equal(t, data[1000:], p[:n])
}

func TestFile_WritesRejected(t *testing.T) {
	srv, _ := patternOrigin(t, 1024)
	w, reg := testFS(t)
	_, err := reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	f, err := w.Open(context.Background(), "/movie.mkv")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write([]byte("nope"))
	assert.Error(t, err)
	assert.Error(t, f.Truncate(0))
}

func TestFile_ReadAfterClose(t *testing.T) {
	srv, _ := patternOrigin(t, 1024)
	w, reg := testFS(t)
	_, err := reg.Register("movie.mkv", srv.URL)
	require.NoError(t, err)

	f, err := w.Open(context.Background(), "/movie.mkv")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRootDir_ListsRegisteredFiles(t *testing.T) {
	srv, _ := patternOrigin(t, 1024)
	w, reg := testFS(t)
	_, err := reg.Register("b.mkv", srv.URL)
	require.NoError(t, err)
	_, err = reg.Register("a.mkv", srv.URL)
	require.NoError(t, err)

	dir, err := w.Open(context.Background(), "/")
	require.NoError(t, err)
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mkv", "b.mkv"}, names)
}

func TestOpen_NotFound(t *testing.T) {
	w, _ := testFS(t)

	_, err := w.Open(context.Background(), "/missing.mkv")
	assert.True(t, os.IsNotExist(err))
}
