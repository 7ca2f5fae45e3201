package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/piece-cache/internal/config"
	"github.com/any-hub/piece-cache/internal/piece"
	"github.com/any-hub/piece-cache/internal/torrent"
)

func TestRouterWritesAndReadsBlock(t *testing.T) {
	app := newTestApp(t, 5000)

	payload := bytes.Repeat([]byte{0x5a}, piece.BlockSize)
	resp := app.do(t, "PUT", "/torrents/demo/pieces/0/blocks/0", payload)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, readBody(resp))
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	resp = app.do(t, "GET", "/torrents/demo/pieces/0/blocks/0", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit header, got %q", resp.Header.Get("X-Cache-Hit"))
	}
	if body := readBody(resp); body != string(payload) {
		t.Fatalf("unexpected block payload (len=%d)", len(body))
	}
}

func TestRouterKeepsTorrentOpenAcrossRequests(t *testing.T) {
	app := newTestApp(t, 5000)

	payload := bytes.Repeat([]byte{0x11}, piece.BlockSize)
	for i := 0; i < 3; i++ {
		resp := app.do(t, "PUT", "/torrents/demo/pieces/0/blocks/0", payload)
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("write #%d: expected 204 status, got %d (body=%s)", i+1, resp.StatusCode, readBody(resp))
		}
	}

	resp := app.do(t, "GET", "/torrents/demo/files/0/exists", nil)
	if got := decodeExists(t, resp); got {
		t.Fatalf("blocks should still be buffered")
	}

	manager, ok := app.registry.Lookup("demo")
	if !ok {
		t.Fatalf("registry lookup failed for demo")
	}
	if stats := manager.Stats(); stats.Cache.Buffered != 3 {
		t.Fatalf("torrent should stay open with 3 buffered writes, got %+v", stats.Cache)
	}
	if err := manager.Flush(); err != nil {
		t.Fatalf("torrent closed by request lifecycle: %v", err)
	}
}

func TestRouterRejectsMoveOntoSiblingFile(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "POST", "/torrents/demo/files/0/move", []byte(`{"path":"b.bin","ignore_existing":true}`))
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 status, got %d", resp.StatusCode)
	}
	if body := readBody(resp); !strings.Contains(body, `"path_in_use"`) {
		t.Fatalf("expected path_in_use error, got %s", body)
	}
}

func TestRouterReturns404WhenTorrentUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "GET", "/torrents/unknown/pieces/0/blocks/0", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	if body := readBody(resp); !strings.Contains(body, `"torrent_not_found"`) {
		t.Fatalf("expected torrent_not_found error, got %s", body)
	}
}

func TestRouterRejectsBadInput(t *testing.T) {
	app := newTestApp(t, 5000)

	cases := []struct {
		method string
		path   string
		body   []byte
		status int
		code   string
	}{
		{"GET", "/torrents/demo/pieces/x/blocks/0", nil, fiber.StatusBadRequest, "invalid_index"},
		{"GET", "/torrents/demo/pieces/-1/blocks/0", nil, fiber.StatusBadRequest, "invalid_index"},
		{"GET", "/torrents/demo/pieces/99/blocks/0", nil, fiber.StatusBadRequest, "block_out_of_range"},
		{"PUT", "/torrents/demo/pieces/0/blocks/0", []byte("short"), fiber.StatusBadRequest, "block_length_mismatch"},
		{"POST", "/torrents/demo/files/7/flush", nil, fiber.StatusNotFound, "file_not_found"},
		{"POST", "/torrents/demo/files/0/move", []byte("{"), fiber.StatusBadRequest, "invalid_body"},
		{"POST", "/torrents/demo/files/0/move", []byte(`{"path":"../x"}`), fiber.StatusBadRequest, "invalid_path"},
	}

	for _, tc := range cases {
		resp := app.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, resp.StatusCode)
		}
		if body := readBody(resp); !strings.Contains(body, `"`+tc.code+`"`) {
			t.Fatalf("%s %s: expected %s, got %s", tc.method, tc.path, tc.code, body)
		}
	}
}

func TestRouterFileOperations(t *testing.T) {
	app := newTestApp(t, 5000)

	resp := app.do(t, "GET", "/torrents/demo/files/0/exists", nil)
	if got := decodeExists(t, resp); got {
		t.Fatalf("file should not exist before flush")
	}

	resp = app.do(t, "PUT", "/torrents/demo/pieces/0/blocks/0", bytes.Repeat([]byte{1}, piece.BlockSize))
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("write failed: %d", resp.StatusCode)
	}

	resp = app.do(t, "POST", "/torrents/demo/files/0/flush", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("flush failed: %d (%s)", resp.StatusCode, readBody(resp))
	}
	if got := decodeExists(t, app.do(t, "GET", "/torrents/demo/files/0/exists", nil)); !got {
		t.Fatalf("file should exist after flush")
	}

	resp = app.do(t, "POST", "/torrents/demo/files/0/close", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("close failed: %d", resp.StatusCode)
	}

	resp = app.do(t, "GET", "/torrents/demo/pieces/0/blocks/0", nil)
	if resp.Header.Get("X-Cache-Hit") != "false" {
		t.Fatalf("expected read from disk after close")
	}

	resp = app.do(t, "POST", "/torrents/demo/files/0/move", []byte(`{"path":"done/a.bin"}`))
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("move failed: %d (%s)", resp.StatusCode, readBody(resp))
	}
	if _, err := os.Stat(filepath.Join(app.storage, "demo", "done", "a.bin")); err != nil {
		t.Fatalf("moved file missing: %v", err)
	}

	resp = app.do(t, "POST", "/torrents/demo/flush", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("flush all failed: %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New()}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

type testApp struct {
	*fiber.App
	registry *torrent.Registry
	storage  string
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	storage := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:    port,
			StoragePath:   storage,
			CacheCapacity: config.DefaultCacheCapacity,
		},
		Torrents: []config.TorrentConfig{
			{
				Name:        "demo",
				PieceLength: 2 * piece.BlockSize,
				Files: []config.FileConfig{
					{Path: "a.bin", Length: piece.BlockSize},
					{Path: "b.bin", Length: 3 * piece.BlockSize},
				},
			},
		},
	}

	registry, err := torrent.NewRegistry(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, registry: registry, storage: storage}
}

func (a *testApp) do(t *testing.T, method, url string, body []byte) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	resp, err := a.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func decodeExists(t *testing.T, resp *http.Response) bool {
	t.Helper()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("exists failed: %d", resp.StatusCode)
	}
	var payload struct {
		Exists bool `json:"exists"`
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode exists: %v", err)
	}
	return payload.Exists
}
