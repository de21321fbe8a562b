package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pstvault/pstvault/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats [db-path]",
	Short: "Show store statistics",
	Long: `Show row, attachment, and per-source counts for conversion stores.

The path may be a single store file or a directory of per-archive stores.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.Paths.DBPath
		if len(args) == 1 {
			dbPath = args[0]
		}

		info, err := os.Stat(dbPath)
		if err != nil {
			return fmt.Errorf("stat %s: %w", dbPath, err)
		}

		paths := []string{dbPath}
		if info.IsDir() {
			paths, err = filepath.Glob(filepath.Join(dbPath, "*.sqlite3"))
			if err != nil {
				return fmt.Errorf("list stores: %w", err)
			}
			sort.Strings(paths)
			if len(paths) == 0 {
				return fmt.Errorf("no store files under %s", dbPath)
			}
		}

		out := cmd.OutOrStdout()
		var totalRows, totalWithAttachment, totalBytes int64
		sources := 0
		for _, p := range paths {
			s, err := store.Open(p)
			if err != nil {
				return fmt.Errorf("open store %s: %w", p, err)
			}
			stats, err := s.Stats(cmd.Context())
			s.Close()
			if err != nil {
				return fmt.Errorf("read stats from %s: %w", p, err)
			}

			fmt.Fprintf(out, "%s\n", p)
			fmt.Fprintf(out, "  Rows:            %d\n", stats.TotalRows)
			fmt.Fprintf(out, "  With attachment: %d\n", stats.RowsWithAttachment)
			for _, src := range stats.Sources {
				fmt.Fprintf(out, "    %-40s %d\n", src.SourcePST, src.Rows)
			}
			fmt.Fprintf(out, "  Size:            %.2f MB\n", float64(stats.FileSize)/(1024*1024))

			totalRows += stats.TotalRows
			totalWithAttachment += stats.RowsWithAttachment
			totalBytes += stats.FileSize
			sources += len(stats.Sources)
		}

		if len(paths) > 1 {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "%d stores, %d rows (%d with attachments), %d sources, %.2f MB\n",
				len(paths), totalRows, totalWithAttachment, sources,
				float64(totalBytes)/(1024*1024))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
