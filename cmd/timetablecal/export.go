package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"timetablecal/internal/config"
	"timetablecal/internal/ics"
	"timetablecal/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an .ics file from a JSON or YAML list of entries",
	Long: `Export runs the calendar generator without the web UI. The input is a
list of {day, time, subject, location} objects in JSON or YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		id, _ := cmd.Flags().GetString("id")
		return runExport(cmd.OutOrStdout(), input, output, id)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringP("input", "i", "", "Entries file (.json or .yaml)")
	exportCmd.Flags().StringP("output", "o", "timetable_schedule.ics", "Output file path")
	exportCmd.Flags().String("id", "", "UID domain (defaults to calendar.id from config)")
	_ = exportCmd.MarkFlagRequired("input")
}

func runExport(stdout io.Writer, input, output, id string) error {
	conf, err := config.Read(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	loc, err := conf.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", conf.Timezone, err)
	}
	if id == "" {
		id = conf.Calendar.ID
	}

	entries, err := readEntries(input)
	if err != nil {
		return err
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	gen := &ics.Generator{CalendarName: conf.Calendar.Name, Location: loc}
	res, err := gen.WriteTo(file, entries, id)
	if err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w", output, err)
	}

	fmt.Fprintf(stdout, "Exported %d of %d entries to %s\n", res.Events, len(entries), output)
	for _, sk := range res.Skipped {
		fmt.Fprintf(stdout, "  skipped #%d %q (%s %s): %s\n", sk.Index+1, sk.Subject, sk.Day, sk.Time, sk.Reason)
	}
	return nil
}

// readEntries loads a list of entries from path. Files ending in .json are
// decoded as JSON, everything else as YAML.
func readEntries(path string) ([]model.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entries: %w", err)
	}
	var entries []model.Entry
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &entries)
	} else {
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse entries %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, errors.New("entries file contains no entries")
	}
	return entries, nil
}
