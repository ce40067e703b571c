// Package progress renders terminal progress bars for the snapshot
// builder: one bar for the rustup-init sync and one per channel sync.
package progress

import (
	"fmt"
	"io"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Reporter owns an mpb.Progress container and hands out bars for
// individual sync operations.
type Reporter struct {
	p *mpb.Progress
}

// NewReporter starts a Reporter. When quiet is true, output is discarded
// so pack/unpack runs in non-interactive contexts (CI, piped logs) stay
// silent without special-casing every call site.
func NewReporter(quiet bool) *Reporter {
	var opts []mpb.ContainerOption
	if quiet {
		opts = append(opts, mpb.WithOutput(io.Discard))
	}
	return &Reporter{p: mpb.New(opts...)}
}

// AddBar starts a new determinate bar with the given total unit count and
// label (the snapshot builder passes "rustup-init" or the channel name).
func (r *Reporter) AddBar(total int64, label string) *mpb.Bar {
	return r.p.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label+" "),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				if s.Total <= 0 {
					return ""
				}
				return fmt.Sprintf("%d/%d", s.Current, s.Total)
			}),
		),
	)
}

// Wait blocks until every bar added so far has completed.
func (r *Reporter) Wait() {
	r.p.Wait()
}
