// Package download implements the bounded-parallelism HTTP download engine
// shared by the snapshot builder (rustup-init, channel manifests,
// per-target artifacts) and by anything else in the registry that needs to
// fetch a file with retries and checksum verification.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// Engine is a tuned HTTP client plus the retry/backoff and checksum-verify
// policy used to pull a single file to a single destination path.
type Engine struct {
	client    *http.Client
	userAgent string
	metrics   *Metrics

	retries   int
	retryBase time.Duration
	retryMax  time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithUserAgent(ua string) Option { return func(e *Engine) { e.userAgent = ua } }
func WithRetries(n int) Option       { return func(e *Engine) { e.retries = n } }
func WithRetryBase(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBase = d
		}
	}
}
func WithRetryMax(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryMax = d
		}
	}
}
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.client.Timeout = d }
}

// NewEngine builds a download Engine with aggressive keep-alive pool sizing
// and an HTTP/2 attempt applied to a default concurrency budget; callers
// supply the actual fan-out via RunPool.
func NewEngine(opts ...Option) *Engine {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   256,
		MaxConnsPerHost:       128,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	e := &Engine{
		client:    &http.Client{Transport: tr, Timeout: 5 * time.Minute},
		userAgent: "crates-registry-mirror/1.0",
		retries:   6,
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Download fetches url into dest, verifying expectedSHA256 when non-empty.
// A 404 response is reported as registryerr.KindNotFound without consuming
// a retry attempt, matching the mirror's treatment of "not every artifact
// exists for every platform" as a benign outcome rather than a failure. If
// overwriteOK is false and dest already exists, the download is skipped
// entirely (idempotent re-runs of a mirror never re-fetch what's already
// on disk).
func (e *Engine) Download(ctx context.Context, url, dest, expectedSHA256 string, overwriteOK bool) error {
	if !overwriteOK {
		if _, err := os.Stat(dest); err == nil {
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return registryerr.Wrap(registryerr.KindIO, err, "create destination directory")
	}

	tmp := dest + ".part"
	attempts := max(1, e.retries)
	var lastErr error
	var size int64

	for attempt := 1; attempt <= attempts; attempt++ {
		os.Remove(tmp)
		f, err := os.Create(tmp)
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "create temp file")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return registryerr.Wrap(registryerr.KindTransport, err, "build request")
		}
		req.Header.Set("User-Agent", e.userAgent)

		if e.metrics != nil {
			e.metrics.inflight.Inc()
		}
		start := time.Now()
		resp, err := e.client.Do(req)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			if e.metrics != nil {
				e.metrics.inflight.Dec()
				e.metrics.duration.Observe(time.Since(start).Seconds())
				e.metrics.requests.WithLabelValues("error", "net").Inc()
			}
			lastErr = err
			if ctx.Err() != nil {
				return registryerr.Wrap(registryerr.KindTransport, ctx.Err(), "download canceled")
			}
			e.backoff(attempt, attempts, url, err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			f.Close()
			os.Remove(tmp)
			if e.metrics != nil {
				e.metrics.inflight.Dec()
				e.metrics.duration.Observe(time.Since(start).Seconds())
				e.metrics.requests.WithLabelValues("not_found", "404").Inc()
			}
			return registryerr.New(registryerr.KindNotFound, fmt.Sprintf("not found: %s", url))
		}

		if resp.StatusCode != http.StatusOK {
			retryable := resp.StatusCode == http.StatusRequestTimeout ||
				resp.StatusCode == http.StatusTooEarly ||
				resp.StatusCode == http.StatusTooManyRequests ||
				resp.StatusCode >= 500
			resp.Body.Close()
			f.Close()
			os.Remove(tmp)
			if e.metrics != nil {
				e.metrics.inflight.Dec()
				e.metrics.duration.Observe(time.Since(start).Seconds())
				e.metrics.requests.WithLabelValues("error", strconv.Itoa(resp.StatusCode)).Inc()
			}
			lastErr = fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
			if !retryable {
				return registryerr.Wrap(registryerr.KindTransport, lastErr, "download")
			}
			e.backoff(attempt, attempts, url, lastErr)
			continue
		}

		n, copyErr := io.Copy(f, resp.Body)
		resp.Body.Close()
		closeErr := f.Close()
		if e.metrics != nil {
			e.metrics.inflight.Dec()
			e.metrics.duration.Observe(time.Since(start).Seconds())
		}
		if copyErr != nil {
			os.Remove(tmp)
			lastErr = copyErr
			if e.metrics != nil {
				e.metrics.requests.WithLabelValues("error", "copy").Inc()
			}
			e.backoff(attempt, attempts, url, copyErr)
			continue
		}
		if closeErr != nil {
			os.Remove(tmp)
			lastErr = closeErr
			e.backoff(attempt, attempts, url, closeErr)
			continue
		}
		size = n
		if e.metrics != nil {
			e.metrics.bytes.Add(float64(n))
			e.metrics.requests.WithLabelValues("ok", "200").Inc()
		}
		lastErr = nil
		if err := os.Rename(tmp, dest); err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "rename downloaded file")
		}
		break
	}
	if lastErr != nil {
		if e.metrics != nil {
			e.metrics.processed.WithLabelValues("error").Inc()
		}
		return registryerr.Wrap(registryerr.KindTransport, lastErr, fmt.Sprintf("download %s after %d attempts", url, attempts))
	}

	if expectedSHA256 != "" {
		got, err := sha256File(dest)
		if err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "hash downloaded file")
		}
		if !strings.EqualFold(got, expectedSHA256) {
			os.Remove(dest)
			if e.metrics != nil {
				e.metrics.processed.WithLabelValues("error").Inc()
			}
			return registryerr.New(registryerr.KindChecksumMismatch, fmt.Sprintf("checksum mismatch for %s: want %s got %s", url, expectedSHA256, got))
		}
	}
	if e.metrics != nil {
		e.metrics.processed.WithLabelValues("ok").Inc()
	}
	_ = size
	return nil
}

// DownloadWithSHA256 downloads url+".sha256" first (a bare hex digest, the
// convention rustup's dist server uses), then downloads url into dest
// verifying against that digest. On success it also writes dest+".sha256"
// so the digest travels alongside the artifact on disk. Missing sibling
// checksum files are tolerated: the artifact is still downloaded, just
// unverified, and no sidecar file is written.
func (e *Engine) DownloadWithSHA256(ctx context.Context, url, dest string, overwriteOK bool) error {
	rawSum, err := e.DownloadString(ctx, url+".sha256")
	if err != nil && !registryerr.Is(err, registryerr.KindNotFound) {
		return err
	}
	sum := firstField(rawSum)
	if err := e.Download(ctx, url, dest, sum, overwriteOK); err != nil {
		return err
	}
	if sum != "" {
		if err := os.WriteFile(dest+".sha256", []byte(rawSum+"\n"), 0o644); err != nil {
			return registryerr.Wrap(registryerr.KindIO, err, "write checksum sidecar")
		}
	}
	return nil
}

// DownloadString fetches url and returns its body as a trimmed string, used
// for small text artifacts like release manifests and checksum sidecars.
func (e *Engine) DownloadString(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", registryerr.Wrap(registryerr.KindTransport, err, "build request")
	}
	req.Header.Set("User-Agent", e.userAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return "", registryerr.Wrap(registryerr.KindTransport, err, "request "+url)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", registryerr.New(registryerr.KindNotFound, "not found: "+url)
	}
	if resp.StatusCode != http.StatusOK {
		return "", registryerr.New(registryerr.KindTransport, fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, url))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", registryerr.Wrap(registryerr.KindTransport, err, "read body")
	}
	return strings.TrimSpace(string(body)), nil
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (e *Engine) backoff(attempt, attempts int, url string, cause error) {
	if attempt >= attempts {
		return
	}
	back := e.retryBase << (attempt - 1)
	if back > e.retryMax {
		back = e.retryMax
	}
	jitter := 0.5 + (float64(time.Now().UnixNano()&0x3ff) / 1024.0)
	sleep := time.Duration(float64(back) * jitter)
	if e.metrics != nil {
		e.metrics.retries.Inc()
	}
	slog.Warn("retrying download", "attempt", attempt, "max", attempts, "backoff", sleep.String(), "url", url, "err", cause)
	time.Sleep(sleep)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
