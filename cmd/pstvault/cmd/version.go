package cmd

// Version is the build version, injected at release time via ldflags.
var Version = "dev"

func init() {
	rootCmd.Version = Version
}
