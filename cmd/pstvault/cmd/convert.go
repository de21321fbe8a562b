package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pstvault/pstvault/internal/convert"
	"github.com/pstvault/pstvault/internal/pipeline"
)

var (
	convertMboxDir        string
	convertDBPath         string
	convertAttachmentsDir string
	convertWorkers        int
	convertKeepMbox       bool
	convertSharedDB       bool
	convertBinary         string
	convertArgs           []string
	convertTimeout        time.Duration
)

var convertCmd = &cobra.Command{
	Use:   "convert [target-dir]",
	Short: "Convert archives into mbox and indexed SQLite stores",
	Long: `Convert every .pst/.ost archive under a directory.

Each archive is converted to an intermediate mbox file by the external
converter, parsed, and indexed: attachments land on disk under the
attachments root and message records in a SQLite store per archive (or one
shared store with --shared-db). Archives are processed in parallel; a
failing archive is reported and does not stop the rest.

The exit code is zero only when every discovered archive converted
completely.

Examples:
  pstvault convert /exports/outlook
  pstvault convert /exports/outlook --shared-db --db /data/all.sqlite3
  pstvault convert --workers 2 --keep-mbox`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := cfg.Paths.TargetDir
		if len(args) == 1 {
			target = args[0]
		}
		if target == "" {
			return fmt.Errorf("no target directory: pass one as an argument or set paths.target_dir")
		}

		applyConvertConfig(cmd)

		conv, err := convert.NewReadpst(convertBinary, convertArgs, convertTimeout)
		if err != nil {
			return err
		}
		conv.WithLogger(logger)

		opts := pipeline.Options{
			TargetDir:      target,
			MboxDir:        convertMboxDir,
			DBPath:         convertDBPath,
			AttachmentsDir: convertAttachmentsDir,
			Converter:      conv,
			Workers:        convertWorkers,
			SharedDB:       convertSharedDB,
			KeepMbox:       convertKeepMbox,
			Logger:         logger,
		}
		if isatty.IsTerminal(os.Stdout.Fd()) {
			opts.Progress = NewCLIProgress(cmd.OutOrStdout())
		}

		runner, err := pipeline.New(opts)
		if err != nil {
			return err
		}

		report, err := runner.Run(cmd.Context())
		if report != nil {
			printReport(cmd, report)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			return err
		}
		if n := report.Failed(); n > 0 {
			return fmt.Errorf("%d archive(s) failed", n)
		}
		return nil
	},
}

// applyConvertConfig fills every flag the user left untouched from the
// config file. Ordering matters: the attachments fallback depends on the
// resolved db path and store mode.
func applyConvertConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("mbox-dir") {
		convertMboxDir = cfg.Paths.MboxDir
	}
	if !flags.Changed("db") {
		convertDBPath = cfg.Paths.DBPath
	}
	if !flags.Changed("shared-db") {
		convertSharedDB = cfg.Convert.SharedDB
	}
	if !flags.Changed("attachments-dir") {
		convertAttachmentsDir = cfg.Paths.AttachmentsDir
	}
	if convertAttachmentsDir == "" {
		dbDir := convertDBPath
		if convertSharedDB {
			dbDir = filepath.Dir(convertDBPath)
		}
		convertAttachmentsDir = filepath.Join(dbDir, "attachments")
	}
	if !flags.Changed("workers") {
		convertWorkers = cfg.Convert.MaxWorkers
	}
	if !flags.Changed("keep-mbox") {
		convertKeepMbox = cfg.Convert.KeepMbox
	}
	if !flags.Changed("converter") {
		convertBinary = cfg.Convert.Converter
	}
	if !flags.Changed("converter-arg") {
		convertArgs = cfg.Convert.ConverterArgs
	}
	if !flags.Changed("convert-timeout") {
		convertTimeout = cfg.ConvertTimeout()
	}
}

// printReport writes the run summary. Every failed archive is listed with
// the stage it failed in and the reason.
func printReport(cmd *cobra.Command, report *pipeline.Report) {
	out := cmd.OutOrStdout()

	switch {
	case cmd.Context().Err() != nil:
		fmt.Fprintln(out, "Conversion interrupted.")
	case len(report.Results) == 0:
		fmt.Fprintln(out, "No archives found.")
		return
	case report.Failed() > 0:
		fmt.Fprintln(out, "Conversion complete (with failures).")
	default:
		fmt.Fprintln(out, "Conversion complete.")
	}
	fmt.Fprintf(out, "  Archives:    %d done, %d failed, %d skipped\n",
		report.Done(), report.Failed(), report.Skipped())
	fmt.Fprintf(out, "  Messages:    %d (%d malformed)\n",
		report.TotalMessages(), report.TotalMalformed())
	fmt.Fprintf(out, "  Records:     %d\n", report.TotalRecords())
	fmt.Fprintf(out, "  Attachments: %d\n", report.TotalAttachments())
	fmt.Fprintf(out, "  Elapsed:     %s\n", formatDuration(report.Elapsed))

	if report.Failed() > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed archives:")
		for _, res := range report.Results {
			if res.Status != pipeline.StatusFailed {
				continue
			}
			fmt.Fprintf(out, "  %s  (%s) %v\n", res.Archive.Rel, res.Stage, res.Err)
		}
	}
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertMboxDir, "mbox-dir", "", "directory for intermediate mbox files (default: <home>/mbox)")
	convertCmd.Flags().StringVar(&convertDBPath, "db", "", "store directory, or store file with --shared-db (default: <home>/db)")
	convertCmd.Flags().StringVar(&convertAttachmentsDir, "attachments-dir", "", "attachments root (default: next to the stores)")
	convertCmd.Flags().IntVar(&convertWorkers, "workers", 0, "parallel conversion workers (0 = number of CPUs)")
	convertCmd.Flags().BoolVar(&convertKeepMbox, "keep-mbox", false, "retain intermediate mbox files after success")
	convertCmd.Flags().BoolVar(&convertSharedDB, "shared-db", false, "write all archives into one shared store")
	convertCmd.Flags().StringVar(&convertBinary, "converter", "", "external converter binary (default: readpst)")
	convertCmd.Flags().StringArrayVar(&convertArgs, "converter-arg", nil, "extra converter argument, repeatable (default: -D -b)")
	convertCmd.Flags().DurationVar(&convertTimeout, "convert-timeout", 0, "per-archive converter deadline (default: 15m)")
}
