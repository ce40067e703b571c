// Package manifest parses rustup channel manifests (the per-release TOML
// documents published at dist/channel-rust-<channel>.toml) and derives the
// platform inventory and download list the snapshot builder mirrors.
package manifest

import (
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// Target is one platform's availability entry under a package. XZURL empty
// means target_urls was absent in the original TOML (rustup omits the
// table entirely for unavailable combinations); such targets are skipped.
type Target struct {
	Available bool   `toml:"available"`
	URL       string `toml:"url"`
	Hash      string `toml:"hash"`
	XZURL     string `toml:"xz_url"`
	XZHash    string `toml:"xz_hash"`
}

// Package is one pkg.<name> table: a version string plus a per-triple
// target map (including the literal "*" triple used by target-independent
// packages such as rust-src).
type Package struct {
	Version string            `toml:"version"`
	Target  map[string]Target `toml:"target"`
}

// Channel is a fully parsed channel-rust-<channel>.toml document.
type Channel struct {
	ManifestVersion string             `toml:"manifest-version"`
	Date            string             `toml:"date"`
	Pkg             map[string]Package `toml:"pkg"`
}

// Parse decodes a channel manifest document.
func Parse(data []byte) (*Channel, error) {
	var c Channel
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "parse channel manifest")
	}
	return &c, nil
}

// windowsPlatforms is the fixed set of Windows target triples; everything
// else observed in a manifest is classified as unix.
var windowsPlatforms = []string{
	"i586-pc-windows-msvc",
	"i686-pc-windows-gnu",
	"i686-pc-windows-msvc",
	"x86_64-pc-windows-gnu",
	"x86_64-pc-windows-msvc",
}

// Platforms is the disjoint unix/windows partition of a channel's known
// target triples, always traversed unix-then-windows.
type Platforms struct {
	Unix    []string
	Windows []string
}

// Contains reports whether triple is present in either partition.
func (p *Platforms) Contains(triple string) bool {
	for _, t := range p.Unix {
		if t == triple {
			return true
		}
	}
	for _, t := range p.Windows {
		if t == triple {
			return true
		}
	}
	return false
}

// All returns every known triple, unix entries first.
func (p *Platforms) All() []string {
	out := make([]string, 0, len(p.Unix)+len(p.Windows))
	out = append(out, p.Unix...)
	out = append(out, p.Windows...)
	return out
}

func isWindowsTriple(t string) bool {
	for _, w := range windowsPlatforms {
		if w == t {
			return true
		}
	}
	return false
}

// AllPlatforms derives the platform(manifest) operation: every concrete
// target triple referenced anywhere in the channel, excluding the
// target-independent "*" entry, partitioned into unix/windows and sorted.
func AllPlatforms(c *Channel) *Platforms {
	set := make(map[string]struct{})
	for _, pkg := range c.Pkg {
		for triple := range pkg.Target {
			if triple == "*" {
				continue
			}
			set[triple] = struct{}{}
		}
	}
	var unix []string
	for t := range set {
		if !isWindowsTriple(t) {
			unix = append(unix, t)
		}
	}
	sort.Strings(unix)
	windows := append([]string(nil), windowsPlatforms...)
	var present []string
	for _, w := range windows {
		if _, ok := set[w]; ok {
			present = append(present, w)
		}
	}
	return &Platforms{Unix: unix, Windows: present}
}

// ListTriples returns every concrete target triple in the channel, sorted,
// excluding "*". This is the raw platforms(manifest) operation; AllPlatforms
// additionally partitions the same set by OS family.
func ListTriples(c *Channel) []string {
	set := make(map[string]struct{})
	for _, pkg := range c.Pkg {
		for triple := range pkg.Target {
			if triple != "*" {
				set[triple] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DownloadItem is one artifact the snapshot builder must fetch: RelPath is
// the path segment after the dist host (suitable for joining onto the
// mirror source and onto the local scratch directory), XZHash is the
// expected SHA-256 of that xz-compressed artifact.
type DownloadItem struct {
	RelPath string
	XZHash  string
}

// DownloadList computes the (date, items) pair for a channel restricted to
// the given platforms. rustc-dev is always excluded (its artifacts are
// large and out of scope for an offline toolchain mirror); the "*" triple
// (target-independent packages like rust-src) is always included
// regardless of the platform selection. Targets with no target_urls (an
// empty XZURL) are skipped.
func DownloadList(c *Channel, selected *Platforms) (string, []DownloadItem) {
	var items []DownloadItem
	for pkgName, pkg := range c.Pkg {
		if pkgName == "rustc-dev" {
			continue
		}
		for triple, target := range pkg.Target {
			if triple != "*" && (selected == nil || !selected.Contains(triple)) {
				continue
			}
			if target.XZURL == "" {
				continue
			}
			rel := relPathFromXZURL(target.XZURL)
			if rel == "" {
				continue
			}
			items = append(items, DownloadItem{RelPath: rel, XZHash: target.XZHash})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RelPath < items[j].RelPath })
	return c.Date, items
}

// relPathFromXZURL strips the scheme and host from a dist URL, keeping
// everything after the first three "/"-separated segments (scheme, empty,
// host), e.g. "https://static.rust-lang.org/dist/2024-01-15/foo.tar.xz"
// becomes "dist/2024-01-15/foo.tar.xz".
func relPathFromXZURL(xzURL string) string {
	parts := strings.Split(xzURL, "/")
	if len(parts) <= 3 {
		return ""
	}
	return strings.Join(parts[3:], "/")
}
