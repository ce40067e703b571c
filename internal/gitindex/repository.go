// Package gitindex manages the git working tree that serves as the Cargo
// index: init-or-open semantics, a fixed commit author, mutex-gated
// add-and-commit, and the dumb-HTTP "update-server-info" refresh. The
// registry owns this index outright rather than mirroring an upstream one,
// so every commit originates locally.
package gitindex

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

const (
	commitAuthorName  = "CrateRegistry"
	commitAuthorEmail = "crates@registry"
)

// Config is the index's config.json: the canonical dl/api URL templates
// Cargo uses to resolve crate downloads and API calls.
type Config struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// Repository wraps a git working tree rooted at an index directory.
type Repository struct {
	root string
	repo *git.Repository
	mu   sync.Mutex
}

// Open opens the git repository at root, initializing one if none exists,
// ensuring it has at least one commit, ensuring config.json matches the
// canonical form for advertisedAddr, and refreshing the dumb-HTTP
// server-info files. advertisedAddr is a host[:port] used to build the
// canonical dl/api URLs.
func Open(root, advertisedAddr string) (*Repository, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		if err != git.ErrRepositoryNotExists {
			return nil, registryerr.Wrap(registryerr.KindIO, err, "open index repository")
		}
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return nil, registryerr.Wrap(registryerr.KindIO, mkErr, "create index directory")
		}
		repo, err = git.PlainInit(root, false)
		if err != nil {
			return nil, registryerr.Wrap(registryerr.KindIO, err, "initialize index repository")
		}
	}

	r := &Repository{root: root, repo: repo}
	r.registerSafeDirectory()
	if err := r.ensureHasCommit(); err != nil {
		return nil, err
	}
	if err := r.ensureConfig(advertisedAddr); err != nil {
		return nil, err
	}
	if err := r.updateServerInfo(); err != nil {
		return nil, err
	}
	return r, nil
}

// registerSafeDirectory adds root to git's global safe.directory list, so
// "git update-server-info" and the CGI http-backend subprocess can operate
// on the index even when spawned under a different effective user than the
// one that owns the worktree. Failure is logged and otherwise ignored: a
// registry running as the same user that owns root never needs this.
func (r *Repository) registerSafeDirectory() {
	cmd := exec.Command("git", "config", "--global", "--add", "safe.directory", r.root)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Warn("register safe.directory failed", "root", r.root, "error", err, "output", string(out))
	}
}

// Root returns the filesystem path of the index working tree.
func (r *Repository) Root() string { return r.root }

func (r *Repository) ensureHasCommit() error {
	_, err := r.repo.Head()
	if err == nil {
		return nil
	}
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return r.AddAndCommit(nil, "Create new repository for cargo registry")
	}
	return registryerr.Wrap(registryerr.KindIO, err, "check index repository head")
}

func canonicalConfig(advertisedAddr string) Config {
	return Config{
		DL:  fmt.Sprintf("http://%s/api/v1/crates/{crate}/{version}/download", advertisedAddr),
		API: fmt.Sprintf("http://%s", advertisedAddr),
	}
}

func (r *Repository) ensureConfig(advertisedAddr string) error {
	path := filepath.Join(r.root, "config.json")
	want := canonicalConfig(advertisedAddr)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeJSON(path, want); werr != nil {
			return werr
		}
		return r.AddAndCommit([]string{"config.json"}, "Add initial config.json")
	}
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "read config.json")
	}

	var got Config
	if jerr := json.Unmarshal(data, &got); jerr != nil {
		return registryerr.Wrap(registryerr.KindConfig, jerr, "parse config.json")
	}
	if got.DL == want.DL && got.API == want.API {
		return nil
	}
	if werr := writeJSON(path, want); werr != nil {
		return werr
	}
	return r.AddAndCommit([]string{"config.json"}, "Update config.json")
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return registryerr.Wrap(registryerr.KindConfig, err, "marshal config.json")
	}
	b = append(b, '\n')
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "write config.json")
	}
	return nil
}

// AddAndCommit stages relPaths (relative to the index root; an empty slice
// is valid and produces an empty commit) and commits them under the fixed
// registry author identity, then refreshes the dumb-HTTP server info. It
// holds the repository's mutual-exclusion gate for its whole duration so
// concurrent publishes/config-updates never race on the same worktree.
func (r *Repository) AddAndCommit(relPaths []string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "open index worktree")
	}
	for _, p := range relPaths {
		if _, err := wt.Add(p); err != nil {
			return registryerr.Wrapf(registryerr.KindIO, err, "stage %s", p)
		}
	}

	sig := &object.Signature{Name: commitAuthorName, Email: commitAuthorEmail, When: time.Now()}
	_, err = wt.Commit(message, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "commit index change")
	}
	return r.updateServerInfoLocked()
}

func (r *Repository) updateServerInfo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateServerInfoLocked()
}

// updateServerInfoLocked runs "git update-server-info" so the index can be
// served over the dumb-HTTP protocol. No go-git binding exists for this,
// so the real git binary is spawned directly.
func (r *Repository) updateServerInfoLocked() error {
	cmd := exec.Command("git", "update-server-info")
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return registryerr.Wrap(registryerr.KindSubprocess, fmt.Errorf("%w: %s", err, out), "git update-server-info")
	}
	return nil
}
