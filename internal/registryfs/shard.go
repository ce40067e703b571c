// Package registryfs implements the crate-path sharding rule shared by the
// publish pipeline and the HTTP router.
package registryfs

import (
	"fmt"
	"path"
	"strings"
)

// Shard returns the directory segment(s) a crate name lives under, per the
// canonical Cargo registry layout:
//
//	1 char    -> "1"
//	2 chars   -> "2"
//	3 chars   -> "3/<first char>"
//	4+ chars  -> "<first two chars>/<next two chars>"
//
// Shard is computed on the lower-cased name.
func Shard(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return path.Join("3", lower[:1])
	default:
		return path.Join(lower[:2], lower[2:4])
	}
}

// CrateFileName returns "<name>-<version>.crate".
func CrateFileName(name, version string) string {
	return fmt.Sprintf("%s-%s.crate", name, version)
}

// CratePath returns the path of a crate's packaged tarball relative to the
// registry's crates directory, e.g. "se/rd/serde-1.0.0.crate".
func CratePath(name, version string) string {
	return path.Join(Shard(name), CrateFileName(name, version))
}

// IndexEntryName returns the lower-cased, extension-less file name an index
// entry for name is stored under.
func IndexEntryName(name string) string {
	return strings.ToLower(name)
}

// IndexEntryPath returns the path of a crate's index entry file relative to
// the index repository root.
func IndexEntryPath(name string) string {
	return path.Join(Shard(name), IndexEntryName(name))
}
