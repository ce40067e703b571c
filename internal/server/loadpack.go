package server

import (
	"io"
	"net/http"
	"os"

	"github.com/APTlantis/crates-registry/internal/registryerr"
	"github.com/APTlantis/crates-registry/internal/snapshot"
)

// handleLoadPackFile implements load_pack_file: the request body must be an
// application/x-tar archive produced by Pack; it is staged to a temp file
// and then unpacked over the live registry root.
func (s *Server) handleLoadPackFile(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/x-tar" {
		writeRegistryError(w, registryerr.New(registryerr.KindParse,
			"expected Content-Type: application/x-tar"))
		return
	}

	tmp, err := os.CreateTemp("", "crates-registry-load-*.tar")
	if err != nil {
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, err, "create temp pack file"))
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, copyErr := io.Copy(tmp, r.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, copyErr, "write uploaded pack file"))
		return
	}
	if closeErr != nil {
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, closeErr, "close uploaded pack file"))
		return
	}

	if err := snapshot.Unpack(tmpPath, s.Root); err != nil {
		writeRegistryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}`))
}
