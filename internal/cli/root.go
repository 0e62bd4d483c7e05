// Package cli implements the folioctl commands.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	profilePath string
	verbose     bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "folioctl",
	Short: "Portfolio assistant and particle field tools",
	Long:  "Talk to the portfolio assistant from a terminal or run the particle background headless.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Archive transcripts to this SQLite database (default: in memory)")
	RootCmd.PersistentFlags().StringVarP(&profilePath, "profile", "p", "", "Profile YAML (default: $PROFILE_PATH or the built-in profile)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func getProfilePath() string {
	if profilePath != "" {
		return profilePath
	}
	return os.Getenv("PROFILE_PATH")
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
