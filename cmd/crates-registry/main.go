// Command crates-registry packs a rustup toolchain snapshot into a
// portable archive, unpacks one back onto disk, and serves the result as a
// Cargo-compatible registry and rustup distribution point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/APTlantis/crates-registry/internal/download"
	"github.com/APTlantis/crates-registry/internal/gitindex"
	"github.com/APTlantis/crates-registry/internal/manifest"
	"github.com/APTlantis/crates-registry/internal/server"
	"github.com/APTlantis/crates-registry/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "pack":
		runPack(os.Args[2:])
	case "unpack":
		runUnpack(os.Args[2:])
	case "serve":
		runServe(os.Args[2:])
	case "platforms-list":
		runPlatformsList(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: crates-registry <pack|unpack|serve|platforms-list> [flags]")
}

func setupLogging(logFormat, logLevel string) *slog.Logger {
	// RUST_LOG supplies the level when -log-level is left at "info".
	if env := os.Getenv("RUST_LOG"); env != "" && logLevel == "info" {
		logLevel = env
	}
	lvl := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "err":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(logFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func runPack(args []string) {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	var (
		source      = fs.String("source", "https://static.rust-lang.org", "Upstream rustup distribution root")
		platforms   = fs.String("platforms", "", "Comma-separated platform triples (empty = every platform)")
		rustVers    = fs.String("rust-versions", "stable,nightly", "Comma-separated rust channels to mirror")
		threads     = fs.Int("threads", 16, "Concurrent download workers")
		retries     = fs.Int("retries", 6, "Retry attempts per download")
		packFile    = fs.String("out", "snapshot.tar", "Output pack file path")
		userAgent   = fs.String("user-agent", "crates-registry-mirror/1.0", "HTTP User-Agent sent to upstream")
		quiet       = fs.Bool("quiet", false, "Suppress progress bars")
		logFormat   = fs.String("log-format", "text", "Logging format: text|json")
		logLevel    = fs.String("log-level", "info", "Logging level: debug|info|warn|error")
		metricsAddr = fs.String("metrics-addr", "", "Serve Prometheus metrics at this address (e.g. :9090)")
	)
	fs.Parse(args)
	setupLogging(*logFormat, *logLevel)

	metrics := download.NewMetrics()
	if *metricsAddr != "" {
		download.Serve(*metricsAddr, metrics.Registry())
	}

	dl := download.NewEngine(
		download.WithUserAgent(*userAgent),
		download.WithRetries(*retries),
		download.WithMetrics(metrics),
	)

	builder := snapshot.NewBuilder(dl, snapshot.BuildOptions{
		Source:       *source,
		Platforms:    splitNonEmpty(*platforms),
		RustVersions: splitNonEmpty(*rustVers),
		Threads:      *threads,
		PackFile:     *packFile,
		Quiet:        *quiet,
	})

	if err := builder.Pack(context.Background()); err != nil {
		slog.Error("pack failed", "error", err)
		os.Exit(1)
	}
	slog.Info("pack complete", "out", *packFile)
}

func runUnpack(args []string) {
	fs := flag.NewFlagSet("unpack", flag.ExitOnError)
	var (
		packFile  = fs.String("in", "snapshot.tar", "Input pack file path")
		destDir   = fs.String("dest", "registry", "Destination registry root")
		logFormat = fs.String("log-format", "text", "Logging format: text|json")
		logLevel  = fs.String("log-level", "info", "Logging level: debug|info|warn|error")
	)
	fs.Parse(args)
	setupLogging(*logFormat, *logLevel)

	if err := snapshot.Unpack(*packFile, *destDir); err != nil {
		slog.Error("unpack failed", "error", err)
		os.Exit(1)
	}
	slog.Info("unpack complete", "dest", *destDir)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		root        = fs.String("root", "registry", "Registry root directory")
		addr        = fs.String("listen", ":8080", "HTTP listen address")
		advertised  = fs.String("advertise-addr", "", "host[:port] advertised in config.json (defaults to -listen)")
		logFormat   = fs.String("log-format", "text", "Logging format: text|json")
		logLevel    = fs.String("log-level", "info", "Logging level: debug|info|warn|error")
		metricsAddr = fs.String("metrics-addr", "", "Serve Prometheus metrics at this address (e.g. :9090)")
	)
	fs.Parse(args)
	logger := setupLogging(*logFormat, *logLevel)

	advertiseAddr := *advertised
	if advertiseAddr == "" {
		advertiseAddr = *addr
	}

	indexRoot := filepath.Join(*root, "index")
	idx, err := gitindex.Open(indexRoot, advertiseAddr)
	if err != nil {
		slog.Error("open index repository failed", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(*root, idx, logger)
	if err != nil {
		slog.Error("server setup failed", "error", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		metrics := download.NewMetrics()
		download.Serve(*metricsAddr, metrics.Registry())
	}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("serving registry", "addr", *addr, "root", *root)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("serve failed", "error", err)
		os.Exit(1)
	}
}

// runPlatformsList fetches the nightly channel manifest and prints every
// platform triple it advertises, the same set -platforms on pack accepts.
func runPlatformsList(args []string) {
	fs := flag.NewFlagSet("platforms-list", flag.ExitOnError)
	var (
		source    = fs.String("source", "https://static.rust-lang.org", "Upstream rustup distribution root")
		userAgent = fs.String("user-agent", "crates-registry-mirror/1.0", "HTTP User-Agent sent to upstream")
		logFormat = fs.String("log-format", "text", "Logging format: text|json")
		logLevel  = fs.String("log-level", "info", "Logging level: debug|info|warn|error")
	)
	fs.Parse(args)
	setupLogging(*logFormat, *logLevel)

	dl := download.NewEngine(download.WithUserAgent(*userAgent))
	url := *source + "/dist/channel-rust-nightly.toml"
	text, err := dl.DownloadString(context.Background(), url)
	if err != nil {
		slog.Error("fetch nightly manifest failed", "error", err)
		os.Exit(1)
	}
	c, err := manifest.Parse([]byte(text))
	if err != nil {
		slog.Error("parse nightly manifest failed", "error", err)
		os.Exit(1)
	}
	for _, triple := range manifest.AllPlatforms(c).All() {
		fmt.Println(triple)
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
