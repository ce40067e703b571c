package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

func TestDownloadVerifiesChecksum(t *testing.T) {
	body := []byte("hello registry")
	sum := sha256.Sum256(body)
	hexSum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "nested", "file.bin")
	e := NewEngine(WithRetries(1))
	if err := e.Download(context.Background(), srv.URL, dest, hexSum, true); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("content mismatch: got %q", got)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("actual"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "file.bin")
	e := NewEngine(WithRetries(1))
	err := e.Download(context.Background(), srv.URL, dest, "deadbeef", true)
	if !registryerr.Is(err, registryerr.KindChecksumMismatch) {
		t.Fatalf("expected checksum mismatch error, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("expected mismatched file to be removed")
	}
}

func TestDownloadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "file.bin")
	e := NewEngine(WithRetries(3))
	err := e.Download(context.Background(), srv.URL, dest, "", true)
	if !registryerr.Is(err, registryerr.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestDownloadSkipsExistingWhenNotOverwrite(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(dest, []byte("already here"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(WithRetries(1))
	if err := e.Download(context.Background(), srv.URL, dest, "", false); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no HTTP calls, got %d", calls)
	}
}

func TestDownloadWithSHA256WritesSidecar(t *testing.T) {
	body := []byte("channel manifest contents")
	sum := sha256.Sum256(body)
	hexSum := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".sha256" {
			w.Write([]byte(hexSum + "  channel-rust-1.67.1.toml\n"))
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "channel-rust-1.67.1.toml")
	e := NewEngine(WithRetries(1))
	url := srv.URL + "/dist/channel-rust-1.67.1.toml"
	if err := e.DownloadWithSHA256(context.Background(), url, dest, true); err != nil {
		t.Fatalf("DownloadWithSHA256: %v", err)
	}

	gotBody, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile dest: %v", err)
	}
	if string(gotBody) != string(body) {
		t.Fatalf("content mismatch: got %q", gotBody)
	}

	gotSum, err := os.ReadFile(dest + ".sha256")
	if err != nil {
		t.Fatalf("expected sidecar file to exist: %v", err)
	}
	if firstField(string(gotSum)) != hexSum {
		t.Fatalf("sidecar content mismatch: got %q want %q", gotSum, hexSum)
	}
}

func TestDownloadWithSHA256ToleratesMissingSidecar(t *testing.T) {
	body := []byte("unverified artifact")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if filepath.Ext(r.URL.Path) == ".sha256" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "artifact.bin")
	e := NewEngine(WithRetries(1))
	url := srv.URL + "/dist/artifact.bin"
	if err := e.DownloadWithSHA256(context.Background(), url, dest, true); err != nil {
		t.Fatalf("DownloadWithSHA256: %v", err)
	}
	if _, err := os.Stat(dest + ".sha256"); !os.IsNotExist(err) {
		t.Fatalf("expected no sidecar file when upstream has none")
	}
}

func TestRunPoolRunsAllTasks(t *testing.T) {
	const n = 20
	results := RunPool(context.Background(), 4, buildTasks(n))
	if len(results) != n {
		t.Fatalf("got %d results, want %d", len(results), n)
	}
}

func buildTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		i := i
		tasks[i] = Task{Name: "t", Run: func(ctx context.Context) error {
			if i%5 == 0 {
				return registryerr.New(registryerr.KindNotFound, "skip")
			}
			return nil
		}}
	}
	return tasks
}
