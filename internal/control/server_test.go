package control

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/httpmount/internal/registry"
)

func startServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	reg := registry.New(slog.Default())
	srv := NewServer("127.0.0.1:0", reg, slog.Default())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return srv, reg
}

func send(t *testing.T, srv *Server, payload string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(reply)
}

func TestServer_Register(t *testing.T) {
	srv, reg := startServer(t)

	reply := send(t, srv, `{"filename": "movie.mkv", "url": "http://origin/movie.mkv"}`)
	assert.Equal(t, "OK", reply)

	url, err := reg.URL("movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "http://origin/movie.mkv", url)
}

func TestServer_MalformedJSON(t *testing.T) {
	srv, reg := startServer(t)

	reply := send(t, srv, `{"filename": `)
	assert.Contains(t, reply, "ERROR:")
	assert.Equal(t, 0, reg.Len())
}

func TestServer_MissingFields(t *testing.T) {
	srv, reg := startServer(t)

	reply := send(t, srv, `{"filename": "movie.mkv"}`)
	assert.Contains(t, reply, "ERROR:")
	assert.Equal(t, 0, reg.Len())
}

func TestServer_DuplicateWithDifferentURL(t *testing.T) {
	srv, reg := startServer(t)

	assert.Equal(t, "OK", send(t, srv, `{"filename": "movie.mkv", "url": "http://origin/a"}`))
	reply := send(t, srv, `{"filename": "movie.mkv", "url": "http://origin/b"}`)
	assert.Contains(t, reply, "ERROR:")

	url, err := reg.URL("movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "http://origin/a", url)
}

func TestServer_ReRegisterSameURLIsOK(t *testing.T) {
	srv, _ := startServer(t)

	assert.Equal(t, "OK", send(t, srv, `{"filename": "movie.mkv", "url": "http://origin/a"}`))
	assert.Equal(t, "OK", send(t, srv, `{"filename": "movie.mkv", "url": "http://origin/a"}`))
}

func TestServer_StopClosesListener(t *testing.T) {
	reg := registry.New(slog.Default())
	srv := NewServer("127.0.0.1:0", reg, slog.Default())
	require.NoError(t, srv.Start(context.Background()))

	addr := srv.Addr().String()
	srv.Stop()

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}
