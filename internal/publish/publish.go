// Package publish implements the Cargo publish wire protocol: a two-part
// length-prefixed body (JSON metadata, then crate bytes), checksum
// computation, shard-path crate storage and index entry insertion.
package publish

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/APTlantis/crates-registry/internal/gitindex"
	"github.com/APTlantis/crates-registry/internal/indexentry"
	"github.com/APTlantis/crates-registry/internal/registryerr"
	"github.com/APTlantis/crates-registry/internal/registryfs"
)

// MaxBodyBytes bounds a single publish request (metadata + crate bytes),
// matching crates.io's own default crate-size ceiling order of magnitude.
const MaxBodyBytes = 20 * 1024 * 1024

// metadataInput is the subset of cargo publish's metadata JSON this
// registry actually needs; Cargo sends many more fields (authors,
// description, license, ...) which are accepted and ignored.
type metadataInput struct {
	Name     string                  `json:"name"`
	Vers     string                  `json:"vers"`
	Deps     []indexentry.Dependency `json:"deps"`
	Features map[string][]string     `json:"features"`
	Links    *string                 `json:"links,omitempty"`
}

// Request is a parsed publish body.
type Request struct {
	Meta  metadataInput
	Crate []byte
}

// ParseBody decodes the two-length-prefixed publish wire format:
// u32le metadata length, metadata JSON bytes, u32le crate length, crate
// bytes.
func ParseBody(r io.Reader) (*Request, error) {
	lr := &io.LimitedReader{R: r, N: MaxBodyBytes + 1}

	metaLen, err := readU32LE(lr)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "read metadata length")
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(lr, metaBytes); err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "read metadata body")
	}
	var meta metadataInput
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "decode metadata JSON")
	}

	crateLen, err := readU32LE(lr)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "read crate length")
	}
	crateBytes := make([]byte, crateLen)
	if _, err := io.ReadFull(lr, crateBytes); err != nil {
		return nil, registryerr.Wrap(registryerr.KindParse, err, "read crate body")
	}

	return &Request{Meta: meta, Crate: crateBytes}, nil
}

func readU32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Pipeline wires together the index repository and crates directory a
// publish request must update.
type Pipeline struct {
	Index     *gitindex.Repository
	CratesDir string
}

// Publish validates, stores and indexes one crate publish request. It
// rejects a duplicate (name, version) with registryerr.KindIndexConflict.
func (p *Pipeline) Publish(body io.Reader) (*indexentry.Entry, error) {
	req, err := ParseBody(body)
	if err != nil {
		return nil, err
	}
	if req.Meta.Name == "" {
		return nil, registryerr.New(registryerr.KindParse, "publish metadata missing crate name")
	}
	if err := indexentry.ValidateVersion(req.Meta.Vers); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Crate)
	cksum := hex.EncodeToString(sum[:])

	entryPath := filepath.Join(p.Index.Root(), registryfs.IndexEntryPath(req.Meta.Name))
	existing, err := loadSet(entryPath)
	if err != nil {
		return nil, err
	}
	if existing.HasVersion(req.Meta.Name, req.Meta.Vers) {
		return nil, registryerr.New(registryerr.KindIndexConflict,
			fmt.Sprintf("crate %s version %s already published", req.Meta.Name, req.Meta.Vers))
	}

	entry := indexentry.Entry{
		Name:     req.Meta.Name,
		Vers:     req.Meta.Vers,
		Deps:     req.Meta.Deps,
		Cksum:    cksum,
		Features: req.Meta.Features,
		Yanked:   false,
		Links:    req.Meta.Links,
	}
	if entry.Features == nil {
		entry.Features = map[string][]string{}
	}
	if _, err := existing.Insert(entry); err != nil {
		return nil, err
	}

	cratePath := filepath.Join(p.CratesDir, registryfs.CratePath(req.Meta.Name, req.Meta.Vers))
	if err := writeCrateFile(cratePath, req.Crate); err != nil {
		return nil, err
	}

	encoded, err := existing.Encode()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		return nil, registryerr.Wrap(registryerr.KindIO, err, "create index entry directory")
	}
	tmp := entryPath + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return nil, registryerr.Wrap(registryerr.KindIO, err, "write index entry")
	}
	if err := os.Rename(tmp, entryPath); err != nil {
		return nil, registryerr.Wrap(registryerr.KindIO, err, "rename index entry")
	}

	rel, err := filepath.Rel(p.Index.Root(), entryPath)
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindIO, err, "relativize index entry path")
	}
	msg := fmt.Sprintf("Publish %s-%s", req.Meta.Name, req.Meta.Vers)
	if err := p.Index.AddAndCommit([]string{rel}, msg); err != nil {
		return nil, err
	}

	return &entry, nil
}

func loadSet(path string) (*indexentry.Set, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return indexentry.NewSet(), nil
	}
	if err != nil {
		return nil, registryerr.Wrap(registryerr.KindIO, err, "read existing index entry")
	}
	return indexentry.DecodeFile(data)
}

func writeCrateFile(path string, data []byte) error {
	if existing, err := os.ReadFile(path); err == nil {
		if string(existing) == string(data) {
			return nil
		}
		return registryerr.New(registryerr.KindIndexConflict, "crate file already exists with different contents: "+path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create crate directory")
	}
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "write crate file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "rename crate file")
	}
	return nil
}
