package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/APTlantis/crates-registry/internal/download"
	"github.com/APTlantis/crates-registry/internal/manifest"
	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// release is rustup/release-stable.toml's shape: just the current
// rustup-init version string.
type release struct {
	Version string `toml:"version"`
}

// channelHistory is the mirror-<channel>-history.toml shape: every sync
// date mapped to the relative file paths captured for it.
type channelHistory struct {
	Versions map[string][]string `toml:"versions"`
}

// resolvePlatforms implements get_platforms: the nightly channel manifest
// is always consulted to learn every triple rustup currently publishes,
// then narrowed to the caller's selection (or used as-is when none was
// given).
func (b *Builder) resolvePlatforms(ctx context.Context) (*manifest.Platforms, error) {
	url := fmt.Sprintf("%s/dist/channel-rust-nightly.toml", b.opts.Source)
	text, err := b.dl.DownloadString(ctx, url)
	if err != nil {
		return nil, err
	}
	c, err := manifest.Parse([]byte(text))
	if err != nil {
		return nil, err
	}
	all := manifest.AllPlatforms(c)
	if len(b.opts.Platforms) == 0 {
		return all, nil
	}
	selected := &manifest.Platforms{}
	for _, p := range b.opts.Platforms {
		switch {
		case containsStr(all.Windows, p):
			selected.Windows = append(selected.Windows, p)
		case containsStr(all.Unix, p):
			selected.Unix = append(selected.Unix, p)
		default:
			return nil, registryerr.New(registryerr.KindConfig, "unknown platform: "+p)
		}
	}
	return selected, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// mirrorRustupInit implements sync_rustup_init: fetch the current
// rustup-init version, then download the installer for every platform into
// both the version-pinned archive tree and the "dist" tree rustup's own
// installer script expects to find it at.
func (b *Builder) mirrorRustupInit(ctx context.Context, scratch string, platforms *manifest.Platforms) error {
	releaseURL := fmt.Sprintf("%s/rustup/release-stable.toml", b.opts.Source)
	releasePath := filepath.Join(scratch, "rustup", "release-stable.toml")
	if err := b.dl.Download(ctx, releaseURL, releasePath, "", true); err != nil {
		return err
	}
	rustupVersion, err := getRustupVersion(releasePath)
	if err != nil {
		return err
	}

	type job struct {
		platform string
		isExe    bool
	}
	var jobs []job
	for _, p := range platforms.Unix {
		jobs = append(jobs, job{platform: p, isExe: false})
	}
	for _, p := range platforms.Windows {
		jobs = append(jobs, job{platform: p, isExe: true})
	}

	var bar barLike
	if b.progress != nil {
		bar = b.progress.AddBar(int64(len(jobs)), "rustup-init")
	}

	tasks := make([]download.Task, len(jobs))
	for i, j := range jobs {
		j := j
		tasks[i] = download.Task{Name: j.platform, Run: func(ctx context.Context) error {
			defer tick(bar)
			return b.syncOneInit(ctx, scratch, j.platform, j.isExe, rustupVersion)
		}}
	}
	results := download.RunPool(ctx, b.opts.Threads, tasks)
	return failedCount(results)
}

func (b *Builder) syncOneInit(ctx context.Context, scratch, platform string, isExe bool, rustupVersion string) error {
	fileName := "rustup-init"
	if isExe {
		fileName = "rustup-init.exe"
	}
	archivePath := filepath.Join(scratch, "rustup", "archive", rustupVersion, platform, fileName)
	distPath := filepath.Join(scratch, "rustup", "dist", platform, fileName)
	sourceURL := fmt.Sprintf("%s/rustup/dist/%s/%s", b.opts.Source, platform, fileName)

	if err := b.dl.DownloadWithSHA256(ctx, sourceURL, archivePath, false); err != nil {
		if registryerr.Is(err, registryerr.KindNotFound) {
			return nil
		}
		return err
	}
	return copyFile(archivePath, distPath)
}

func getRustupVersion(path string) (string, error) {
	data, err := readFile(path)
	if err != nil {
		return "", registryerr.Wrap(registryerr.KindIO, err, "read release-stable.toml")
	}
	var r release
	if err := toml.Unmarshal(data, &r); err != nil {
		return "", registryerr.Wrap(registryerr.KindParse, err, "parse release-stable.toml")
	}
	return r.Version, nil
}

// mirrorChannel implements sync_rustup_channel: resolve the channel
// manifest URL (nightly dates get a date-scoped path; everything else uses
// the plain channel-rust-<channel>.toml), download it, compute the
// download list, fetch every selected artifact, and on full success record
// a history entry.
func (b *Builder) mirrorChannel(ctx context.Context, scratch, channel string, platforms *manifest.Platforms) error {
	var channelURL, relPath string
	var extraFiles []string
	if inner, ok := strings.CutPrefix(channel, "nightly-"); ok {
		relPath = fmt.Sprintf("dist/%s/channel-rust-nightly.toml", inner)
		channelURL = fmt.Sprintf("%s/%s", b.opts.Source, relPath)
		extraFiles = []string{relPath, relPath + ".sha256"}
	} else {
		relPath = fmt.Sprintf("dist/channel-rust-%s.toml", channel)
		channelURL = fmt.Sprintf("%s/%s", b.opts.Source, relPath)
	}
	channelPath := filepath.Join(scratch, filepath.FromSlash(relPath))

	if err := b.dl.DownloadWithSHA256(ctx, channelURL, channelPath, true); err != nil {
		return err
	}

	data, err := readFile(channelPath)
	if err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "read channel manifest")
	}
	c, err := manifest.Parse(data)
	if err != nil {
		return err
	}
	date, items := manifest.DownloadList(c, platforms)

	var bar barLike
	if b.progress != nil {
		bar = b.progress.AddBar(int64(len(items)), channel)
	}

	tasks := make([]download.Task, len(items))
	for i, item := range items {
		item := item
		tasks[i] = download.Task{Name: item.RelPath, Run: func(ctx context.Context) error {
			defer tick(bar)
			targetURL := fmt.Sprintf("%s/%s", b.opts.Source, item.RelPath)
			targetPath := filepath.Join(scratch, filepath.FromSlash(item.RelPath))
			err := b.dl.Download(ctx, targetURL, targetPath, item.XZHash, true)
			if registryerr.Is(err, registryerr.KindNotFound) {
				return nil
			}
			return err
		}}
	}
	results := download.RunPool(ctx, b.opts.Threads, tasks)
	if err := failedCount(results); err != nil {
		return err
	}

	files := make([]string, 0, len(items)+len(extraFiles))
	for _, item := range items {
		files = append(files, item.RelPath)
	}
	files = append(files, extraFiles...)
	return addToChannelHistory(scratch, channel, date, files)
}

func addToChannelHistory(scratch, channel, date string, files []string) error {
	path := filepath.Join(scratch, fmt.Sprintf("mirror-%s-history.toml", channel))
	var hist channelHistory
	if data, err := readFile(path); err == nil {
		if uerr := toml.Unmarshal(data, &hist); uerr != nil {
			return registryerr.Wrap(registryerr.KindParse, uerr, "parse channel history")
		}
	}
	if hist.Versions == nil {
		hist.Versions = map[string][]string{}
	}
	hist.Versions[date] = files

	out, err := toml.Marshal(hist)
	if err != nil {
		return registryerr.Wrap(registryerr.KindParse, err, "marshal channel history")
	}
	return writeFile(path, out)
}

func failedCount(results []download.Result) error {
	var n int
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return registryerr.New(registryerr.KindTransport, fmt.Sprintf("%d downloads failed", n))
}

// barLike is the subset of *mpb.Bar the snapshot builder needs, kept as an
// interface so progress reporting is optional (nil when the Builder has no
// progress Reporter; a quiet run still has one, with its output discarded).
type barLike interface {
	Increment()
}

func tick(b barLike) {
	if b != nil {
		b.Increment()
	}
}
