// Package snapshot implements the pack/unpack pipeline: the Builder
// mirrors rustup-init and rustup channels into a scratch tree, then packs
// that tree into a single portable tar archive; Unpack reverses the
// process to hydrate a registry root from an archive. Crate tarballs are
// not mirrored.
package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/APTlantis/crates-registry/internal/download"
	"github.com/APTlantis/crates-registry/internal/progress"
	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// BuildOptions configures one pack run.
type BuildOptions struct {
	// Source is the upstream mirror root, e.g. "https://static.rust-lang.org".
	Source string
	// Platforms restricts mirroring to these target triples; empty means
	// every platform the nightly manifest currently advertises.
	Platforms []string
	// RustVersions lists the channels to mirror (e.g. "stable",
	// "nightly", "nightly-2024-01-15"); empty defaults to stable+nightly.
	RustVersions []string
	Threads      int
	PackFile     string
	Quiet        bool
}

// Builder orchestrates one pack run using a shared download Engine.
type Builder struct {
	dl       *download.Engine
	opts     BuildOptions
	progress *progress.Reporter
}

// NewBuilder constructs a Builder. dl is reused for every artifact so
// metrics and connection pooling stay shared across the whole run.
func NewBuilder(dl *download.Engine, opts BuildOptions) *Builder {
	if opts.Threads <= 0 {
		opts.Threads = 16
	}
	if len(opts.RustVersions) == 0 {
		opts.RustVersions = []string{"stable", "nightly"}
	}
	return &Builder{dl: dl, opts: opts, progress: progress.NewReporter(opts.Quiet)}
}

// Pack mirrors rustup-init, every configured rust channel, and tars the
// resulting scratch tree to opts.PackFile.
func (b *Builder) Pack(ctx context.Context) error {
	scratch, err := os.MkdirTemp("", "crates-registry-pack-")
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create scratch directory")
	}
	defer os.RemoveAll(scratch)

	platforms, err := b.resolvePlatforms(ctx)
	if err != nil {
		return err
	}

	if err := b.mirrorRustupInit(ctx, scratch, platforms); err != nil {
		return registryerr.Wrap(registryerr.KindTransport, err, "mirror rustup-init")
	}

	for _, channel := range b.opts.RustVersions {
		if err := b.mirrorChannel(ctx, scratch, channel, platforms); err != nil {
			return registryerr.Wrapf(registryerr.KindTransport, err, "mirror channel %s", channel)
		}
	}

	b.progress.Wait()

	if err := Pack(scratch, b.opts.PackFile); err != nil {
		return err
	}
	return nil
}

// Pack tars the contents of srcDir (recursively, with deterministic
// ordering) into an uncompressed tar archive at destFile.
func Pack(srcDir, destFile string) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create pack file directory")
	}
	f, err := os.Create(destFile)
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create pack file")
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	defer tw.Close()

	var paths []string
	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "walk scratch directory")
	}
	sort.Strings(paths)

	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "stat file")
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "relativize path")
		}
		name := filepath.ToSlash(rel)

		if info.IsDir() {
			hdr := &tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: info.ModTime()}
			if err := tw.WriteHeader(hdr); err != nil {
				return registryerr.Wrap(registryerr.KindIO, err, "write directory header")
			}
			continue
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "build tar header")
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "write file header")
		}
		file, err := os.Open(path)
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "open file for packing")
		}
		_, copyErr := io.Copy(tw, file)
		file.Close()
		if copyErr != nil {
			return registryerr.Wrap(registryerr.KindIO, copyErr, "write file contents")
		}
	}
	return nil
}

// Unpack extracts an archive produced by Pack into destDir, creating it if
// necessary. It is idempotent: re-unpacking the same archive over an
// existing tree just overwrites matching files.
func Unpack(archiveFile, destDir string) error {
	f, err := os.Open(archiveFile)
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "open pack file")
	}
	defer f.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create destination directory")
	}

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return registryerr.Wrap(registryerr.KindParse, err, "read tar header")
		}
		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !isWithinDir(destDir, target) {
			return registryerr.New(registryerr.KindParse, fmt.Sprintf("tar entry escapes destination: %s", hdr.Name))
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return registryerr.Wrap(registryerr.KindIO, err, "create directory from archive")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return registryerr.Wrap(registryerr.KindIO, err, "create parent directory")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return registryerr.Wrap(registryerr.KindIO, err, "create extracted file")
			}
			_, copyErr := io.Copy(out, tr)
			closeErr := out.Close()
			if copyErr != nil {
				return registryerr.Wrap(registryerr.KindIO, copyErr, "write extracted file")
			}
			if closeErr != nil {
				return registryerr.Wrap(registryerr.KindIO, closeErr, "close extracted file")
			}
		}
	}
	return nil
}

func isWithinDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create directory")
	}
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create directory")
	}
	in, err := os.Open(src)
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "open source file")
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create destination file")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "copy file")
	}
	return nil
}
