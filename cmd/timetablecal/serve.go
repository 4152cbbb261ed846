package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"timetablecal/internal/config"
	"timetablecal/internal/extract"
	appLog "timetablecal/internal/log"
	"timetablecal/internal/session"
	"timetablecal/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web UI and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config)")
}

func runServe(parent context.Context) error {
	appLog.Info("timetablecal starting", "version", version)

	conf, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	// CLI --listen overrides config file listen if provided.
	if serveListen != "" {
		conf.Listen = serveListen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Warn("unknown timezone, using local time", "timezone", conf.Timezone, "error", err.Error())
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"calendar_id", conf.Calendar.ID,
		"model", conf.Extractor.Model,
		"cache_dir", conf.Extractor.CacheDir,
		"session_ttl", conf.Session.TTL().String(),
		"basic_auth", conf.BasicAuth != nil,
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore(conf.Session.TTL())
	stopSweeper, err := sessions.StartSweeper(conf.Session.Sweep)
	if err != nil {
		return fmt.Errorf("session sweep schedule %q: %w", conf.Session.Sweep, err)
	}
	defer stopSweeper()

	ex, err := newExtractor(ctx, conf)
	if err != nil {
		return err
	}

	srv := web.NewServer(conf, web.Deps{
		Sessions:  sessions,
		Extractor: ex,
		Location:  loc,
	})

	if err := web.Run(ctx, srv); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	appLog.Info("timetablecal exiting")
	return nil
}

// newExtractor returns nil (and no error) when no API key is configured so
// the UI still serves; uploads then report the missing key.
func newExtractor(ctx context.Context, conf *config.Config) (extract.Extractor, error) {
	g, err := extract.NewGemini(ctx, conf.Extractor.APIKey, conf.Extractor.Model, conf.Extractor.Timeout())
	if errors.Is(err, extract.ErrNotConfigured) {
		appLog.Warn("GEMINI_API_KEY is not set; uploads will fail until it is configured")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	appLog.Info("extractor ready", "extractor", g.Name(), "timeout", conf.Extractor.Timeout().String())
	if conf.Extractor.CacheDir == "" {
		return g, nil
	}
	return extract.NewCache(g, conf.Extractor.CacheDir), nil
}
