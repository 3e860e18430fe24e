package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versekeep/versekeep/internal/domain"
)

func TestBlobFetch(t *testing.T) {
	content := []byte("offline blob content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/library/items/item-1/blob", r.URL.Path)
		assert.Empty(t, r.Header.Get("Range"))
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := NewBlobClient(srv.URL, "", dir, nil)

	var lastDownloaded, lastTotal int64
	onProgress := func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	}
	require.NoError(t, b.Fetch(context.Background(), "item-1", 0, onProgress))

	assert.Equal(t, int64(len(content)), lastDownloaded)
	assert.Equal(t, int64(len(content)), lastTotal)

	got, err := os.ReadFile(filepath.Join(dir, "item-1.blob"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestBlobFetchResumes(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=4-", r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 4-9/%d", len(full)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[4:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := NewBlobClient(srv.URL, "", dir, nil)

	// The first four bytes are already on disk from the interrupted transfer
	path := filepath.Join(dir, "item-1.blob")
	require.NoError(t, os.WriteFile(path, full[:4], 0644))

	var lastDownloaded, lastTotal int64
	onProgress := func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	}
	require.NoError(t, b.Fetch(context.Background(), "item-1", 4, onProgress))

	assert.Equal(t, int64(len(full)), lastDownloaded)
	assert.Equal(t, int64(len(full)), lastTotal)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestBlobFetchRestartsWhenRangeIgnored(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Plain 200: no range support, full body
		w.Write(full)
	}))
	defer srv.Close()

	dir := t.TempDir()
	b := NewBlobClient(srv.URL, "", dir, nil)

	path := filepath.Join(dir, "item-1.blob")
	require.NoError(t, os.WriteFile(path, []byte("stale partial data"), 0644))

	require.NoError(t, b.Fetch(context.Background(), "item-1", 4, nil))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, full, got, "a 200 response truncates and restarts")
}

func TestBlobFetchCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	b := NewBlobClient(srv.URL, "", t.TempDir(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Fetch(ctx, "item-1", 0, func(downloaded, total int64) { cancel() }) }()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBlobFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := NewBlobClient(srv.URL, "", t.TempDir(), nil)
	err := b.Fetch(context.Background(), "item-1", 0, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestBlobDelete(t *testing.T) {
	dir := t.TempDir()
	b := NewBlobClient("http://unused", "", dir, nil)

	path := filepath.Join(dir, "item-1.blob")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	require.NoError(t, b.Delete("item-1"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Absent blob is not an error
	assert.NoError(t, b.Delete("item-1"))
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		in    string
		total int64
		ok    bool
	}{
		{"bytes 0-99/100", 100, true},
		{"bytes 4-9/10", 10, true},
		{"bytes 0-99/*", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		total, ok := parseContentRangeTotal(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.total, total, tt.in)
		}
	}
}
