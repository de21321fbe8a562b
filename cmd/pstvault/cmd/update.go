package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pstvault/pstvault/internal/update"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update pstvault to the latest version",
	Long: `Check for and install pstvault updates.

Shows exactly what will be downloaded and where it will be installed.
Requires confirmation before making changes (use --yes to skip).

Dev builds are not replaced by default. Use --force to install the latest
official release over a dev build.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		checkOnly, _ := cmd.Flags().GetBool("check")
		yes, _ := cmd.Flags().GetBool("yes")
		force, _ := cmd.Flags().GetBool("force")

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Checking for updates...")

		info, err := update.CheckForUpdate(Version, true)
		if err != nil {
			return fmt.Errorf("check for updates: %w", err)
		}

		if info == nil {
			fmt.Fprintf(out, "Already running latest version (%s)\n", Version)
			return nil
		}

		fmt.Fprintf(out, "\n  Current version: %s\n", info.CurrentVersion)
		fmt.Fprintf(out, "  Latest version:  %s\n", info.LatestVersion)
		if info.IsDevBuild {
			fmt.Fprintln(out, "\nYou're running a dev build. Latest official release available.")
		} else {
			fmt.Fprintln(out, "\nUpdate available!")
		}
		fmt.Fprintln(out, "\nDownload:")
		fmt.Fprintf(out, "  URL:  %s\n", info.DownloadURL)
		fmt.Fprintf(out, "  Size: %s\n", update.FormatSize(info.Size))
		if info.Checksum != "" {
			fmt.Fprintf(out, "  SHA256: %s\n", info.Checksum)
		}

		currentExe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("find executable: %w", err)
		}
		currentExe, _ = filepath.EvalSymlinks(currentExe)

		fmt.Fprintln(out, "\nInstall location:")
		fmt.Fprintf(out, "  %s\n", filepath.Dir(currentExe))

		if checkOnly {
			if info.IsDevBuild {
				fmt.Fprintln(out, "\nUse --force to install the latest official release.")
			}
			return nil
		}

		if info.IsDevBuild && !force {
			fmt.Fprintln(out, "\nUse --force to install the latest official release.")
			return nil
		}

		if !yes {
			fmt.Fprint(out, "\nProceed with update? [y/N] ")
			var response string
			_, _ = fmt.Scanln(&response)
			response = strings.ToLower(response)
			if response != "y" && response != "yes" {
				fmt.Fprintln(out, "Update cancelled")
				return nil
			}
		}

		fmt.Fprintln(out)

		var lastPercent int
		progressFn := func(downloaded, total int64) {
			if total <= 0 {
				return
			}
			percent := int(downloaded * 100 / total)
			if percent != lastPercent {
				fmt.Fprintf(out, "\rDownloading... %d%% (%s / %s)",
					percent, update.FormatSize(downloaded), update.FormatSize(total))
				lastPercent = percent
			}
		}

		if err := update.PerformUpdate(info, progressFn); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}

		fmt.Fprintf(out, "\nUpdated to %s\n", info.LatestVersion)
		return nil
	},
}

func init() {
	updateCmd.Flags().Bool("check", false, "only check for updates, don't install")
	updateCmd.Flags().BoolP("yes", "y", false, "skip confirmation prompt")
	updateCmd.Flags().BoolP("force", "f", false, "replace dev build with latest official release")
	rootCmd.AddCommand(updateCmd)
}
