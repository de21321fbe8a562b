package pipeline

import (
	"time"

	"github.com/pstvault/pstvault/internal/archive"
)

// Status is the terminal state of one archive.
type Status string

const (
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Stage identifies the pipeline stage an archive reached. For failed
// archives it names the stage that failed.
type Stage string

const (
	StageDiscovered Stage = "discovered"
	StageConverting Stage = "converting"
	StageParsing    Stage = "parsing"
	StageExtracting Stage = "extracting"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
)

// Result is the outcome of one archive's pass through the pipeline.
type Result struct {
	Archive     archive.Archive
	Status      Status
	Stage       Stage
	Err         error // set when Status is StatusFailed
	Messages    int   // messages parsed successfully
	Malformed   int   // messages skipped as unparseable or oversized
	Records     int   // rows emitted for the store
	Attachments int   // attachment files written
	Duration    time.Duration
}

// Report aggregates a whole run.
type Report struct {
	RunID   string
	Results []Result
	Elapsed time.Duration
}

// Done counts archives that completed.
func (r *Report) Done() int { return r.count(StatusDone) }

// Failed counts archives that failed. Any nonzero value means the process
// must exit nonzero.
func (r *Report) Failed() int { return r.count(StatusFailed) }

// Skipped counts archives left untouched because their store already exists.
func (r *Report) Skipped() int { return r.count(StatusSkipped) }

func (r *Report) count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// TotalMessages sums parsed messages across archives.
func (r *Report) TotalMessages() int {
	n := 0
	for _, res := range r.Results {
		n += res.Messages
	}
	return n
}

// TotalRecords sums emitted rows across archives.
func (r *Report) TotalRecords() int {
	n := 0
	for _, res := range r.Results {
		n += res.Records
	}
	return n
}

// TotalAttachments sums extracted attachment files across archives.
func (r *Report) TotalAttachments() int {
	n := 0
	for _, res := range r.Results {
		n += res.Attachments
	}
	return n
}

// TotalMalformed sums skipped messages across archives.
func (r *Report) TotalMalformed() int {
	n := 0
	for _, res := range r.Results {
		n += res.Malformed
	}
	return n
}

// Progress receives archive lifecycle events. Workers deliver events
// concurrently, so implementations must be safe for parallel use.
type Progress interface {
	OnArchiveStart(a archive.Archive)
	OnArchiveDone(r Result)
}

type noopProgress struct{}

func (noopProgress) OnArchiveStart(archive.Archive) {}
func (noopProgress) OnArchiveDone(Result)           {}
