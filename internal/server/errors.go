package server

import (
	"encoding/json"
	"net/http"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// registryError mirrors the Cargo registries convention: every response
// returns HTTP 200, and failures are communicated through a JSON body
// instead of the status line.
type registryError struct {
	Detail string `json:"detail"`
}

type registryErrors struct {
	Errors []registryError `json:"errors"`
}

// writeRegistryError always responds 200 OK with one JSON error entry per
// layer of err's cause chain, matching the Cargo registries protocol's
// RegistryErrors encoding.
func writeRegistryError(w http.ResponseWriter, err error) {
	chain := registryerr.Chain(err)
	errs := make([]registryError, len(chain))
	for i, detail := range chain {
		errs[i] = registryError{Detail: detail}
	}
	body := registryErrors{Errors: errs}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, err, "encode response"))
	}
}
