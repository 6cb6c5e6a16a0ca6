package relay

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestServerServesStaticFilesCompressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := "<html>" + strings.Repeat("dashboard ", 500) + "</html>"
	writeFile(t, filepath.Join(dir, "index.html"), page)

	server := httptest.NewServer(NewServer(ServerConfig{StaticDir: dir}, New(Config{}, nil), nil))
	t.Cleanup(server.Close)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := server.Client().Transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestServerCustomIndexFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dashboard.html"), "custom index")
	writeFile(t, filepath.Join(dir, "status.json"), `{"ok":true}`)

	server := httptest.NewServer(NewServer(ServerConfig{StaticDir: dir, IndexFile: "dashboard.html"}, New(Config{}, nil), nil))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "custom index", string(body))

	resp, err = http.Get(server.URL + "/status.json")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.JSONEq(t, `{"ok":true}`, string(body))

	resp, err = http.Get(server.URL + "/missing.txt")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	server := NewServer(ServerConfig{StaticDir: t.TempDir()}, New(Config{}, nil), nil)

	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
