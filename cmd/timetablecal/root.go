package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	appLog "timetablecal/internal/log"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "timetablecal",
	Short: "Turn a weekly class timetable into a recurring calendar",
	Long: `timetablecal reads a photo or PDF of a weekly timetable, lets you review
the extracted classes in a web UI and exports them as an .ics file with one
weekly recurring event per class.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./timetablecal.yaml", "Path to YAML config file")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	defer appLog.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		appLog.Sync()
		os.Exit(1)
	}
}
