package server

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/APTlantis/crates-registry/internal/gitindex"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	idx, err := gitindex.Open(filepath.Join(root, "index"), "registry.example.com")
	if err != nil {
		t.Fatalf("gitindex.Open: %v", err)
	}
	s, err := New(root, idx, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, root
}

func buildPublishBody(t *testing.T, meta any, crate []byte) *bytes.Reader {
	t.Helper()
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(metaBytes)))
	buf.Write(metaBytes)
	binary.Write(&buf, binary.LittleEndian, uint32(len(crate)))
	buf.Write(crate)
	return bytes.NewReader(buf.Bytes())
}

func TestHandleDownloadRedirects(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crates/serde/1.0.0/download", nil)
	req.SetPathValue("crate", "serde")
	req.SetPathValue("version", "1.0.0")
	rec := httptest.NewRecorder()

	s.handleDownload(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	want := "/crates/se/rd/serde-1.0.0.crate"
	if got := rec.Header().Get("Location"); got != want {
		t.Fatalf("Location = %q, want %q", got, want)
	}
}

func TestHandlePublishThenCrateFileOnDisk(t *testing.T) {
	s, root := newTestServer(t)

	meta := map[string]any{"name": "demo", "vers": "0.1.0", "deps": []any{}, "features": map[string]any{}}
	req := httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", buildPublishBody(t, meta, []byte("crate-bytes")))
	rec := httptest.NewRecorder()

	s.handlePublish(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	cratePath := filepath.Join(root, "crates", "de", "mo", "demo-0.1.0.crate")
	if _, err := os.Stat(cratePath); err != nil {
		t.Fatalf("expected crate file at %s: %v", cratePath, err)
	}
}

func TestHandlePublishDuplicateVersionReportsRegistryError(t *testing.T) {
	s, _ := newTestServer(t)
	meta := map[string]any{"name": "demo", "vers": "0.1.0", "deps": []any{}, "features": map[string]any{}}

	rec := httptest.NewRecorder()
	s.handlePublish(rec, httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", buildPublishBody(t, meta, []byte("v1"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("first publish status = %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	s.handlePublish(rec2, httptest.NewRequest(http.MethodPut, "/api/v1/crates/new", buildPublishBody(t, meta, []byte("v1-again"))))

	if rec2.Code != http.StatusOK {
		t.Fatalf("conflict response status = %d, want 200 (registry error convention)", rec2.Code)
	}
	if !strings.Contains(rec2.Body.String(), `"detail"`) {
		t.Fatalf("expected a registry error body, got %s", rec2.Body.String())
	}
}

func TestHandleAvailablePlatformsOnEmptyRoot(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleAvailablePlatforms(rec, httptest.NewRequest(http.MethodGet, "/api/available-platforms", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Fatalf("body = %q, want empty array", got)
	}
}

func TestHandleAvailablePlatformsListsDistDirs(t *testing.T) {
	s, root := newTestServer(t)
	for _, platform := range []string{"x86_64-unknown-linux-gnu", "x86_64-pc-windows-msvc"} {
		if err := os.MkdirAll(filepath.Join(root, "rustup", "dist", platform), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	s.handleAvailablePlatforms(rec, httptest.NewRequest(http.MethodGet, "/api/available-platforms", nil))

	var got []string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	want := []string{"x86_64-pc-windows-msvc", "x86_64-unknown-linux-gnu"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("platforms = %v, want %v", got, want)
	}
}
