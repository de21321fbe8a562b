package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pstvault/pstvault/internal/convert"
	"github.com/pstvault/pstvault/internal/pipeline"
	"github.com/pstvault/pstvault/internal/scheduler"
)

var watchSchedule string

// watchStopTimeout bounds how long shutdown waits for an in-flight scan.
const watchStopTimeout = 30 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch [target-dir...]",
	Short: "Rescan target directories on a cron schedule",
	Long: `Convert new archives on a recurring schedule.

Each scheduled scan rediscovers archives under the target directories and
converts the ones without an existing store, so a watch never redoes work.
An initial scan runs immediately on startup. The command blocks until
interrupted.

Pipeline settings (mbox dir, store path, converter, workers) come from the
config file; only the schedule can be overridden on the command line.`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		schedule := cfg.Watch.Schedule
		if cmd.Flags().Changed("schedule") {
			schedule = watchSchedule
		}
		if schedule == "" {
			return fmt.Errorf("no schedule configured (--schedule or [watch] schedule)")
		}
		if err := scheduler.ValidateCronExpr(schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		if cfg.Convert.SharedDB {
			return fmt.Errorf("watch requires per-archive stores; disable shared_db")
		}

		targets := args
		if len(targets) == 0 {
			if cfg.Paths.TargetDir == "" {
				return fmt.Errorf("no target directory: pass one as an argument or set paths.target_dir")
			}
			targets = []string{cfg.Paths.TargetDir}
		}

		conv, err := convert.NewReadpst(cfg.Convert.Converter, cfg.Convert.ConverterArgs, cfg.ConvertTimeout())
		if err != nil {
			return err
		}
		conv = conv.WithLogger(logger)

		runScan := func(ctx context.Context, target string) error {
			runner, err := pipeline.New(pipeline.Options{
				TargetDir:      target,
				MboxDir:        cfg.Paths.MboxDir,
				DBPath:         cfg.Paths.DBPath,
				AttachmentsDir: cfg.AttachmentsDir(),
				Converter:      conv,
				Workers:        cfg.Convert.MaxWorkers,
				KeepMbox:       cfg.Convert.KeepMbox,
				SkipExisting:   true,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			report, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d archive(s) failed", n)
			}
			return nil
		}

		sched := scheduler.New(runScan).WithLogger(logger)
		scheduled, errs := sched.AddTargets(targets, schedule)
		for _, err := range errs {
			logger.Warn("failed to schedule target", "error", err)
		}
		if scheduled == 0 {
			return fmt.Errorf("no targets scheduled")
		}

		sched.Start()
		logger.Info("watch started", "targets", scheduled, "schedule", schedule)

		for _, target := range targets {
			if err := sched.TriggerRun(target); err != nil {
				logger.Warn("initial scan not started", "target", target, "error", err)
			}
		}

		<-cmd.Context().Done()

		stopCtx := sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(watchStopTimeout):
			logger.Warn("shutdown timed out waiting for running scan")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "cron expression for scans (overrides [watch] schedule)")
}
