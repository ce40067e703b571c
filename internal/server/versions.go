package server

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// handleAvailablePlatforms lists the platform triples rustup-init was mirrored
// for, read straight off the directory names under rustup/dist.
func (s *Server) handleAvailablePlatforms(w http.ResponseWriter, r *http.Request) {
	dir := filepath.Join(s.Root, "rustup", "dist")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, []string{})
			return
		}
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, err, "read rustup dist directory"))
		return
	}
	var platforms []string
	for _, e := range entries {
		if e.IsDir() {
			platforms = append(platforms, e.Name())
		}
	}
	sort.Strings(platforms)
	writeJSON(w, platforms)
}

// channelHistory is the on-disk shape of mirror-<channel>-history.toml:
// every sync date mapped to the relative file paths captured for it.
type channelHistory struct {
	Versions map[string][]string `toml:"versions"`
}

// versionsResponse is the /api/versions response body: channel display name
// mapped to the platforms its history shows artifacts for.
type versionsResponse struct {
	Versions map[string][]string `json:"versions"`
}

// handleAvailableVersions reports every mirrored channel's history: every
// mirror-<channel>-history.toml at the registry root becomes one entry,
// with a nightly history file's channel name recomputed as
// "nightly-<date>" from its own file name rather than from its "nightly"
// lookup key.
func (s *Server) handleAvailableVersions(w http.ResponseWriter, r *http.Request) {
	matches, err := filepath.Glob(filepath.Join(s.Root, "*.toml"))
	if err != nil {
		writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, err, "glob channel history files"))
		return
	}
	sort.Strings(matches)

	versions := map[string][]string{}
	for _, path := range matches {
		base := filepath.Base(path)
		if !strings.HasPrefix(base, "mirror-") || !strings.HasSuffix(base, "-history.toml") {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(base, "mirror-"), "-history.toml")

		isNightly := strings.Contains(trimmed, "nightly")
		lookupKey := trimmed
		displayName := trimmed
		if isNightly {
			lookupKey = "nightly"
			displayName = "nightly-" + strings.TrimPrefix(trimmed, "nightly-")
		}

		data, err := os.ReadFile(path)
		if err != nil {
			writeRegistryError(w, registryerr.Wrap(registryerr.KindIO, err, "read channel history"))
			return
		}
		var hist channelHistory
		if err := toml.Unmarshal(data, &hist); err != nil {
			writeRegistryError(w, registryerr.Wrap(registryerr.KindParse, err, "parse channel history"))
			return
		}

		versions[displayName] = extractAvailablePlatformsForChannel(hist, lookupKey)
	}
	writeJSON(w, versionsResponse{Versions: versions})
}

// extractAvailablePlatformsForChannel scans every recorded file path across
// every sync date for "cargo-<versionName>-<platform>tar.xz" and recovers
// platform by stripping that prefix and the literal "tar.xz" suffix (not
// ".tar.xz" - the trailing dot before the extension is part of the
// original file name and is deliberately left in place, matching the
// source registry's own extraction logic).
func extractAvailablePlatformsForChannel(hist channelHistory, versionName string) []string {
	marker := "cargo-" + versionName + "-"
	seen := map[string]bool{}
	var platforms []string
	for _, files := range hist.Versions {
		for _, f := range files {
			idx := strings.Index(f, marker)
			if idx < 0 {
				continue
			}
			rest := f[idx+len(marker):]
			rest = strings.TrimSuffix(rest, "tar.xz")
			if rest == "" || seen[rest] {
				continue
			}
			seen[rest] = true
			platforms = append(platforms, rest)
		}
	}
	sort.Strings(platforms)
	return platforms
}
