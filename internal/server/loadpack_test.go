package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/APTlantis/crates-registry/internal/snapshot"
)

func TestHandleLoadPackFileRejectsWrongContentType(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/load-pack-file", nil)
	rec := httptest.NewRecorder()

	s.handleLoadPackFile(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (registry error convention)", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"detail"`) {
		t.Fatalf("expected a registry error body, got %s", rec.Body.String())
	}
}

func TestHandleLoadPackFileUnpacksArchive(t *testing.T) {
	s, root := newTestServer(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "config.json"), []byte(`{"dl":"x","api":"y"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	packFile := filepath.Join(t.TempDir(), "snapshot.tar")
	if err := snapshot.Pack(src, packFile); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	data, err := os.ReadFile(packFile)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/load-pack-file", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/x-tar")
	rec := httptest.NewRecorder()

	s.handleLoadPackFile(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(root, "config.json")); err != nil {
		t.Fatalf("expected unpacked config.json: %v", err)
	}
}
