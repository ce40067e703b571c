// Package server implements the HTTP surface of the registry: the Cargo
// git index, crate download and publish endpoints, static dist and
// rustup mirrors, and the small JSON API the bundled frontend talks to.
// Routing uses the standard library's method-and-pattern ServeMux
// (Go 1.22+) rather than a third-party router framework.
package server

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/APTlantis/crates-registry/internal/frontend"
	"github.com/APTlantis/crates-registry/internal/gitcgi"
	"github.com/APTlantis/crates-registry/internal/gitindex"
	"github.com/APTlantis/crates-registry/internal/publish"
	"github.com/APTlantis/crates-registry/internal/registryerr"
	"github.com/APTlantis/crates-registry/internal/registryfs"
)

// Server holds the registry root and the sub-components its handlers
// delegate to.
type Server struct {
	Root      string
	Index     *gitindex.Repository
	Publisher *publish.Pipeline
	Logger    *slog.Logger

	mux http.Handler
}

// New builds a Server and wires its full route table. It creates the
// registry root's static subtrees (crates, dist, rustup) if they don't
// already exist.
func New(root string, index *gitindex.Repository, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureDirs(root); err != nil {
		return nil, err
	}
	s := &Server{
		Root:   root,
		Index:  index,
		Logger: logger,
		Publisher: &publish.Pipeline{
			Index:     index,
			CratesDir: filepath.Join(root, "crates"),
		},
	}
	s.mux = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /crates/", http.StripPrefix("/crates/", http.FileServer(http.Dir(filepath.Join(s.Root, "crates")))))
	mux.Handle("GET /dist/", http.StripPrefix("/dist/", http.FileServer(http.Dir(filepath.Join(s.Root, "dist")))))
	mux.Handle("GET /rustup/", http.StripPrefix("/rustup/", http.FileServer(http.Dir(filepath.Join(s.Root, "rustup")))))

	mux.HandleFunc("/git/index/", s.handleGitIndex)

	mux.HandleFunc("GET /api/v1/crates/{crate}/{version}/download", s.handleDownload)
	mux.HandleFunc("PUT /api/v1/crates/new", s.handlePublish)

	mux.HandleFunc("GET /api/available-platforms", s.handleAvailablePlatforms)
	mux.HandleFunc("GET /api/versions", s.handleAvailableVersions)
	mux.HandleFunc("PUT /api/load-pack-file", s.handleLoadPackFile)

	mux.Handle("/", frontend.Handler())

	return s.withRequestID(mux)
}

// withRequestID tags every request with a UUID, logged alongside its
// method, path and latency, so a single request can be traced through
// the rest of the handler's structured log lines.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Logger.Debug("handled request",
			"request_id", id, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleGitIndex proxies every method under /git/index/ to "git
// http-backend" rooted at the index repository, so a plain git client can
// clone and fetch the git index over dumb or smart HTTP.
func (s *Server) handleGitIndex(w http.ResponseWriter, r *http.Request) {
	pathInfo := strings.TrimPrefix(r.URL.Path, "/git/index")
	if pathInfo == "" {
		pathInfo = "/"
	}
	if err := gitcgi.Handle(r.Context(), w, r, s.Index.Root(), pathInfo); err != nil {
		s.Logger.Error("git index request failed", "path", r.URL.Path, "error", err)
	}
}

// handleDownload redirects a crate download request to its static file
// under /crates, matching Cargo's dl URL template
// (/api/v1/crates/{crate}/{version}/download).
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	crate := r.PathValue("crate")
	version := r.PathValue("version")
	target := "/crates/" + registryfs.CratePath(crate, version)
	http.Redirect(w, r, target, http.StatusFound)
}

// handlePublish runs the publish wire format through the Pipeline and
// reports the result the way cargo publish expects: a 200 with either an
// empty warnings object or a registryErrors body.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, publish.MaxBodyBytes)
	entry, err := s.Publisher.Publish(r.Body)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	s.Logger.Info("published crate", "name", entry.Name, "version", entry.Vers)
	writeJSON(w, map[string]any{"warnings": map[string]any{}})
}

// ensureDirs creates the registry root's static subtrees so the FileServer
// handlers above never fail on a brand new, empty root.
func ensureDirs(root string) error {
	for _, sub := range []string{"crates", "dist", "rustup"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return registryerr.Wrapf(registryerr.KindIO, err, "create %s directory", sub)
		}
	}
	return nil
}
