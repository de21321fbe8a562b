package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pstvault/pstvault/internal/archive"
)

var scanCmd = &cobra.Command{
	Use:   "scan [target-dir]",
	Short: "List archives a convert run would pick up",
	Long: `List every .pst/.ost file under the target directory without
converting anything. Useful to check discovery before a long run.`,
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

		archives, err := archive.Discover(target)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(archives) == 0 {
			fmt.Fprintln(out, "No archives found.")
			return nil
		}

		var totalBytes int64
		for _, a := range archives {
			var size int64
			if info, err := os.Stat(a.Path); err == nil {
				size = info.Size()
			}
			totalBytes += size
			fmt.Fprintf(out, "  %-50s %10.2f MB\n", a.Rel, float64(size)/(1024*1024))
		}
		fmt.Fprintf(out, "%d archive(s), %.2f MB total\n",
			len(archives), float64(totalBytes)/(1024*1024))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
