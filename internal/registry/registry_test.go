package registry

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := New(slog.Default())

	rec, err := r.Register("movie.mkv", "http://origin/movie.mkv")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, r.Len())

	url, err := r.URL("movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, "http://origin/movie.mkv", url)
}

func TestRegistry_Register_SameURLIsIdempotent(t *testing.T) {
	r := New(slog.Default())

	first, err := r.Register("movie.mkv", "http://origin/movie.mkv")
	require.NoError(t, err)

	second, err := r.Register("movie.mkv", "http://origin/movie.mkv")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Register_DifferentURLRejected(t *testing.T) {
	r := New(slog.Default())

	_, err := r.Register("movie.mkv", "http://origin/movie.mkv")
	require.NoError(t, err)

	_, err = r.Register("movie.mkv", "http://other/movie.mkv")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// The original mapping is untouched.
	url, lookupErr := r.URL("movie.mkv")
	require.NoError(t, lookupErr)
	assert.Equal(t, "http://origin/movie.mkv", url)
}

func TestRegistry_Register_InvalidNames(t *testing.T) {
	r := New(slog.Default())

	tests := []struct {
		name     string
		filename string
		url      string
	}{
		{"empty name", "", "http://origin/a"},
		{"path separator", "a/b.mkv", "http://origin/a"},
		{"dot", ".", "http://origin/a"},
		{"dotdot", "..", "http://origin/a"},
		{"invalid utf8", string([]byte{0xff, 0xfe}), "http://origin/a"},
		{"empty url", "a.mkv", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.filename, tt.url)
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	r := New(slog.Default())

	_, err := r.Lookup("missing.mkv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_List_Sorted(t *testing.T) {
	r := New(slog.Default())

	_, err := r.Register("b.mkv", "http://origin/b")
	require.NoError(t, err)
	_, err = r.Register("a.mkv", "http://origin/a")
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a.mkv", list[0].Name)
	assert.Equal(t, "b.mkv", list[1].Name)
}
