package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pstvault/pstvault/internal/archive"
	"github.com/pstvault/pstvault/internal/pipeline"
)

// CLIProgress implements pipeline.Progress for terminal output. Events
// arrive from worker goroutines, so every print happens under the lock.
type CLIProgress struct {
	mu      sync.Mutex
	out     io.Writer
	started int
}

// NewCLIProgress creates a progress printer writing to out.
func NewCLIProgress(out io.Writer) *CLIProgress {
	return &CLIProgress{out: out}
}

func (p *CLIProgress) OnArchiveStart(a archive.Archive) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
	fmt.Fprintf(p.out, "[%d] converting %s\n", p.started, a.Rel)
}

func (p *CLIProgress) OnArchiveDone(r pipeline.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r.Status {
	case pipeline.StatusDone:
		fmt.Fprintf(p.out, "    done    %s: %d messages, %d records, %d attachments in %s\n",
			r.Archive.Rel, r.Messages, r.Records, r.Attachments, formatDuration(r.Duration))
	case pipeline.StatusSkipped:
		fmt.Fprintf(p.out, "    skipped %s (store already exists)\n", r.Archive.Rel)
	case pipeline.StatusFailed:
		fmt.Fprintf(p.out, "    failed  %s: %v\n", r.Archive.Rel, r.Err)
	}
}

// formatDuration formats a duration as "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
