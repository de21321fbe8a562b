// Package pipeline orchestrates the archive conversion run: it discovers
// source archives, assigns each to a worker, sequences conversion, parsing,
// attachment extraction, and persistence, and aggregates a final report.
//
// Failure is isolated per archive. A worker absorbs its archive's error into
// the result slot and keeps the run alive; only configuration problems and
// cancellation end the run early.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pstvault/pstvault/internal/archive"
	"github.com/pstvault/pstvault/internal/convert"
	"github.com/pstvault/pstvault/internal/extract"
	"github.com/pstvault/pstvault/internal/fileutil"
	"github.com/pstvault/pstvault/internal/mailmsg"
	"github.com/pstvault/pstvault/internal/mbox"
	"github.com/pstvault/pstvault/internal/store"
)

// defaultBatchSize bounds one shared-store flush.
const defaultBatchSize = 500

// defaultMaxMessageBytes caps a single mbox message. Oversized messages are
// counted as malformed and skipped, not fatal to the archive.
const defaultMaxMessageBytes = 128 << 20

// Options configures a run. TargetDir, MboxDir, DBPath, AttachmentsDir, and
// Converter are required; the rest have working defaults.
type Options struct {
	TargetDir      string
	MboxDir        string
	DBPath         string // directory for per-archive stores, file for shared
	AttachmentsDir string

	Converter       convert.Converter
	Workers         int   // worker pool size; <= 0 means runtime.NumCPU()
	SharedDB        bool  // one shared store instead of one per archive
	KeepMbox        bool  // retain intermediate mbox files after success
	BatchSize       int   // shared-store flush size; <= 0 means defaultBatchSize
	MaxMessageBytes int64 // per-message size cap; <= 0 means defaultMaxMessageBytes

	// SkipExisting leaves archives alone when their per-archive store is
	// already present. Used by scheduled runs.
	SkipExisting bool

	Progress Progress     // optional; events arrive from worker goroutines
	Logger   *slog.Logger // optional; defaults to slog.Default()
}

// Runner executes conversion runs. Construct with New; a Runner carries no
// state between runs.
type Runner struct {
	opts        Options
	workers     int
	batchSize   int
	maxMsgBytes int64
	progress    Progress
	logger      *slog.Logger
}

// New validates the configuration and bootstraps the output roots.
// Configuration problems surface here, before any archive work starts.
func New(opts Options) (*Runner, error) {
	if opts.Converter == nil {
		return nil, fmt.Errorf("pipeline: converter is required")
	}
	if opts.TargetDir == "" {
		return nil, fmt.Errorf("pipeline: target dir is required")
	}
	if opts.MboxDir == "" || opts.DBPath == "" || opts.AttachmentsDir == "" {
		return nil, fmt.Errorf("pipeline: mbox dir, db path, and attachments dir are required")
	}
	if opts.SkipExisting && opts.SharedDB {
		return nil, fmt.Errorf("pipeline: skip-existing requires per-archive stores")
	}

	if err := fileutil.SecureMkdirAll(opts.MboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("create mbox dir: %w", err)
	}
	if err := fileutil.SecureMkdirAll(opts.AttachmentsDir, 0o700); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	dbDir := opts.DBPath
	if opts.SharedDB {
		dbDir = filepath.Dir(opts.DBPath)
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	r := &Runner{
		opts:        opts,
		workers:     opts.Workers,
		batchSize:   opts.BatchSize,
		maxMsgBytes: opts.MaxMessageBytes,
		progress:    opts.Progress,
		logger:      opts.Logger,
	}
	if r.workers <= 0 {
		r.workers = runtime.NumCPU()
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxMsgBytes <= 0 {
		r.maxMsgBytes = defaultMaxMessageBytes
	}
	if r.progress == nil {
		r.progress = noopProgress{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Run discovers archives under the target dir and processes each to
// completion. The report covers every discovered archive; the returned error
// is non-nil only for discovery problems, a failed shared-store open, or
// run cancellation. Per-archive failures live in the report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	archives, err := archive.Discover(r.opts.TargetDir)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID}
	if len(archives) == 0 {
		logger.Info("no archives found", "target_dir", r.opts.TargetDir)
		report.Elapsed = time.Since(start)
		return report, nil
	}
	logger.Info("run starting",
		"archives", len(archives), "workers", r.workers, "shared_db", r.opts.SharedDB)

	var shared *store.Store
	if r.opts.SharedDB {
		shared, err = store.OpenShared(r.opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open shared store: %w", err)
		}
		defer shared.Close()
	}

	results := make([]Result, len(archives))
	sem := make(chan struct{}, r.workers)
	g, gctx := errgroup.WithContext(ctx)

	for i, a := range archives {
		i, a := i, a

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				results[i] = Result{
					Archive: a,
					Status:  StatusFailed,
					Stage:   StageDiscovered,
					Err:     gctx.Err(),
				}
				return gctx.Err()
			}

			r.progress.OnArchiveStart(a)
			res := r.processArchive(gctx, logger, a, shared)
			results[i] = res
			r.progress.OnArchiveDone(res)

			switch res.Status {
			case StatusDone:
				logger.Info("archive done", "archive", a.Name,
					"messages", res.Messages, "records", res.Records,
					"attachments", res.Attachments, "malformed", res.Malformed,
					"elapsed", res.Duration)
			case StatusSkipped:
				logger.Info("archive skipped", "archive", a.Name)
			case StatusFailed:
				logger.Warn("archive failed", "archive", a.Name,
					"stage", res.Stage, "error", res.Err)
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}

	waitErr := g.Wait()
	report.Results = results
	report.Elapsed = time.Since(start)
	logger.Info("run complete",
		"done", report.Done(), "failed", report.Failed(), "skipped", report.Skipped(),
		"messages", report.TotalMessages(), "records", report.TotalRecords(),
		"attachments", report.TotalAttachments(), "malformed", report.TotalMalformed(),
		"elapsed", report.Elapsed)
	return report, waitErr
}

func (r *Runner) perArchiveDBPath(src archive.Archive) string {
	return filepath.Join(r.opts.DBPath, src.Name+".sqlite3")
}

// processArchive walks one archive through converting, parsing, extracting,
// and persisting. It always returns a terminal result and never panics the
// worker; every failure is attributed to a stage.
func (r *Runner) processArchive(ctx context.Context, logger *slog.Logger, src archive.Archive, shared *store.Store) Result {
	start := time.Now()
	res := Result{Archive: src, Status: StatusFailed}
	fail := func(stage Stage, err error) Result {
		res.Status = StatusFailed
		res.Stage = stage
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	if r.opts.SkipExisting {
		if _, err := os.Stat(r.perArchiveDBPath(src)); err == nil {
			res.Status = StatusSkipped
			res.Stage = StageDiscovered
			res.Duration = time.Since(start)
			return res
		}
	}

	mboxPath, err := r.opts.Converter.Convert(ctx, src, r.opts.MboxDir)
	if err != nil {
		return fail(StageConverting, err)
	}

	f, err := os.Open(mboxPath)
	if err != nil {
		return fail(StageParsing, fmt.Errorf("open mbox: %w", err))
	}
	defer f.Close()

	dest := shared
	staged := false
	if !r.opts.SharedDB {
		dest, err = store.OpenStaged(r.perArchiveDBPath(src))
		if err != nil {
			return fail(StagePersisting, err)
		}
		staged = true
	}
	finalized := false
	defer func() {
		if staged && !finalized {
			if err := dest.Discard(); err != nil {
				logger.Warn("discard staging db", "archive", src.Name, "error", err)
			}
		}
	}()

	reader := mbox.NewReaderWithMaxMessageBytes(f, r.maxMsgBytes)

	ext := extract.New(r.opts.AttachmentsDir, src.Name)
	var pending []store.EmailRecord
	msgIndex := 0
	for {
		if err := ctx.Err(); err != nil {
			return fail(StageParsing, err)
		}

		msg, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, mbox.ErrMessageTooLarge) {
				msgIndex++
				res.Malformed++
				logger.Warn("skipping oversized message",
					"archive", src.Name, "index", msgIndex, "error", err)
				continue
			}
			return fail(StageParsing, fmt.Errorf("read mbox: %w", err))
		}
		msgIndex++

		parsed, err := mailmsg.Parse(msg.Raw)
		if err != nil {
			res.Malformed++
			logger.Warn("skipping malformed message",
				"archive", src.Name, "index", msgIndex, "error", err)
			continue
		}
		res.Messages++

		refs, err := ext.Extract(msgIndex, parsed.Attachments)
		if err != nil {
			return fail(StageExtracting, err)
		}
		res.Attachments += len(refs)

		records := buildRecords(src, parsed, msg, refs)
		res.Records += len(records)
		pending = append(pending, records...)

		// Per-archive stores commit the whole archive in one transaction at
		// the end; the shared store flushes at the batch bound.
		if r.opts.SharedDB && len(pending) >= r.batchSize {
			if err := dest.WriteBatch(ctx, pending); err != nil {
				return fail(StagePersisting, fmt.Errorf("write batch: %w", err))
			}
			pending = pending[:0]
		}
	}

	if err := dest.WriteBatch(ctx, pending); err != nil {
		return fail(StagePersisting, fmt.Errorf("write batch: %w", err))
	}
	if staged {
		if err := dest.Finalize(); err != nil {
			return fail(StagePersisting, err)
		}
		finalized = true
	}

	if !r.opts.KeepMbox {
		f.Close()
		if err := os.Remove(mboxPath); err != nil {
			logger.Warn("remove intermediate mbox", "archive", src.Name, "error", err)
		}
	}

	res.Status = StatusDone
	res.Stage = StageDone
	res.Duration = time.Since(start)
	return res
}

// buildRecords expands one parsed message into store rows: one row per
// recipient and attachment combination. A message with no attachments gets
// one row per recipient with NULL attachment columns; a message with no
// parseable recipients gets rows with NULL recipient columns. Every message
// therefore yields at least one row.
func buildRecords(src archive.Archive, parsed *mailmsg.Message, msg *mbox.Message, refs []extract.Ref) []store.EmailRecord {
	sender := parsed.Sender()

	// The Date header wins; the mbox separator date is the fallback readpst
	// itself synthesizes from message metadata.
	date := parsed.Date
	if date.IsZero() {
		if t, ok := msg.SeparatorDate(); ok {
			date = t
		}
	}
	var emailDate sql.NullString
	if !date.IsZero() {
		emailDate = store.NullString(date.UTC().Format(time.RFC3339))
	}

	recipients := parsed.To
	if len(recipients) == 0 {
		recipients = []mailmsg.Address{{}}
	}

	rows := make([]store.EmailRecord, 0, len(recipients)*max(1, len(refs)))
	for _, rcpt := range recipients {
		base := store.EmailRecord{
			Subject:        store.NullString(parsed.Subject),
			SenderName:     store.NullString(sender.Name),
			SenderEmail:    store.NullString(sender.Email),
			RecipientName:  store.NullString(rcpt.Name),
			RecipientEmail: store.NullString(rcpt.Email),
			EmailDate:      emailDate,
			SourcePST:      src.Rel,
		}
		if len(refs) == 0 {
			rows = append(rows, base)
			continue
		}
		for _, ref := range refs {
			row := base
			row.AttachmentFilename = store.NullString(ref.Filename)
			row.AttachmentType = store.NullString(ref.ContentType)
			rows = append(rows, row)
		}
	}
	return rows
}
