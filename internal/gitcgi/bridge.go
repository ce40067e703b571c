// Package gitcgi bridges incoming HTTP requests to "git http-backend" in
// CGI mode, letting a plain git client clone/fetch the index repository
// over the dumb- and smart-HTTP protocols without reimplementing either.
package gitcgi

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// Handle proxies r through "git http-backend" rooted at projectRoot, with
// pathInfo set to the request path the backend should see relative to the
// repository (e.g. "/info/refs"). The backend's response headers, status
// line and body are streamed back through w.
func Handle(ctx context.Context, w http.ResponseWriter, r *http.Request, projectRoot, pathInfo string) error {
	cmd := exec.CommandContext(ctx, "git", "http-backend")
	cmd.Dir = projectRoot
	cmd.Env = []string{
		"GIT_PROJECT_ROOT=" + projectRoot,
		"GIT_HTTP_EXPORT_ALL=true",
		"PATH_INFO=" + pathInfo,
		"REQUEST_METHOD=" + r.Method,
		"QUERY_STRING=" + r.URL.RawQuery,
		"REMOTE_USER=",
		"REMOTE_ADDR=" + remoteAddr(r),
		"PATH=" + os.Getenv("PATH"),
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		cmd.Env = append(cmd.Env, "CONTENT_TYPE="+ct)
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		cmd.Env = append(cmd.Env, "CONTENT_LENGTH="+cl)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return registryerr.Wrap(registryerr.KindSubprocess, err, "open git http-backend stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return registryerr.Wrap(registryerr.KindSubprocess, err, "open git http-backend stdout")
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return registryerr.Wrap(registryerr.KindSubprocess, err, "start git http-backend")
	}

	copyErrCh := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, r.Body)
		stdin.Close()
		copyErrCh <- err
	}()

	br := bufio.NewReader(stdout)
	status := http.StatusOK
	headers := make(http.Header)
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed != "" {
			if k, v, ok := strings.Cut(trimmed, ":"); ok {
				k = strings.TrimSpace(k)
				v = strings.TrimSpace(v)
				if strings.EqualFold(k, "Status") {
					if code, convErr := strconv.Atoi(strings.Fields(v)[0]); convErr == nil {
						status = code
					}
				} else {
					headers.Add(k, v)
				}
			}
		}
		if trimmed == "" || err != nil {
			break
		}
	}

	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	_, copyOutErr := io.Copy(w, br)

	waitErr := cmd.Wait()
	<-copyErrCh
	if waitErr != nil {
		return registryerr.Wrap(registryerr.KindSubprocess, waitErr, "git http-backend exited")
	}
	if copyOutErr != nil {
		return registryerr.Wrap(registryerr.KindIO, copyOutErr, "stream git http-backend response")
	}
	return nil
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
