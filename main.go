package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"courtcrawl/internal/browser"
	"courtcrawl/internal/config"
	"courtcrawl/internal/controller"
	"courtcrawl/internal/report"
	"courtcrawl/internal/session"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/site"
	_ "courtcrawl/internal/sites/gdcourt"
	_ "courtcrawl/internal/sites/txcourt"
	"courtcrawl/internal/workkey"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	siteName   string
	showUI     bool
	proxyURL   string
	outDir     string
	sinkKind   string
	maxPages   int
	logLevel   string
	format     string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:     "courtcrawl",
		Short:   "Resumable crawler for court case portals",
		Version: version,
		Long: `courtcrawl walks a court portal one work key at a time (a hearing date,
or a county and month), writes what it finds to CSV, SQLite or Postgres and
picks up where it left off when run again. Keys that fail are retried once at
the end of the run; the ones still failing are listed in the missing file.`,
		Example: `  # Crawl every weekday hearing date of 2019 and 2020 into CSV files
  COURTCRAWL_YEAR_FROM=2019 COURTCRAWL_YEAR_TO=2020 courtcrawl --site gdcourt --out data

  # Watch the browser while crawling into SQLite
  courtcrawl --site gdcourt --showui --sink sqlite

  # Capture monthly reports with an external save tool
  courtcrawl --site txcourt -c courtcrawl.yaml

  # Retry the keys a previous run could not finish
  courtcrawl retry output/missing.txt`,
		Args:         cobra.NoArgs,
		RunE:         runAll,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (defaults to COURTCRAWL_CONFIG)")
	pf.StringVar(&siteName, "site", "", "Site to crawl (see 'courtcrawl sites')")
	pf.BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "Proxy URL (e.g. http://127.0.0.1:7890)")
	pf.StringVarP(&outDir, "out", "o", "", "Output directory for the csv sink")
	pf.StringVar(&sinkKind, "sink", "", "Output sink (csv, sqlite, postgres)")
	pf.IntVar(&maxPages, "max-pages", -1, "Max result pages per key (0 for no limit, -1 to use the config)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&format, "format", "f", "text", "Summary format (text, json, markdown)")

	rootCmd.AddCommand(retryCmd(), keysCmd(), statusCmd(), sitesCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig layers command-line flags over config.Load.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("site") {
		cfg.Site = siteName
	}
	if flags.Changed("showui") {
		cfg.Browser.Headless = !showUI
	}
	if flags.Changed("proxy") {
		cfg.Browser.ProxyURL = proxyURL
	}
	if flags.Changed("out") {
		cfg.Output.Dir = outDir
	}
	if flags.Changed("sink") {
		cfg.Output.Kind = sinkKind
	}
	if maxPages >= 0 {
		cfg.Crawl.MaxPages = maxPages
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func setup(cmd *cobra.Command) (config.Config, site.Site, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, nil, nil, err
	}
	if !slices.Contains(report.Formats, format) {
		return cfg, nil, nil, fmt.Errorf("invalid summary format: %s", format)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	s, ok := site.Get(cfg.Site)
	if !ok {
		return cfg, nil, nil, fmt.Errorf("unknown site: %s", cfg.Site)
	}
	return cfg, s, log, nil
}

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runAll(cmd *cobra.Command, _ []string) error {
	cfg, s, log, err := setup(cmd)
	if err != nil {
		return err
	}
	keys, err := s.Keys(cfg)
	if err != nil {
		if len(keys) == 0 {
			return fmt.Errorf("failed to build work keys: %w", err)
		}
		log.Warn("some work keys skipped", "err", err)
	}
	return crawl(cmd.Context(), cfg, s, keys, log)
}

// crawl runs keys through the site's unit and records what is left over.
func crawl(ctx context.Context, cfg config.Config, s site.Site, keys []workkey.Key, log *slog.Logger) error {
	runID := uuid.NewString()
	log = log.With("run_id", runID, "site", s.Name())
	log.Info("starting run", "keys", len(keys))

	sk, err := sink.Open(ctx, cfg.Output.Config)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	defer sk.Close()

	b, err := browser.New(browser.Config{
		Headless: cfg.Browser.Headless,
		ProxyURL: cfg.Browser.ProxyURL,
		Bin:      cfg.Browser.Bin,
	})
	if err != nil {
		return err
	}
	defer b.Close()
	if b.ProxyURL() != "" {
		log.Info("browser using proxy", "proxy", b.ProxyURL())
	}

	sess, err := session.NewRod(ctx, b, "", cfg.Browser.Timeout)
	if err != nil {
		return err
	}
	defer sess.Close()

	unit, err := s.NewUnit(site.Env{Config: cfg, Session: sess, Sink: sk, Log: log, RunID: runID})
	if err != nil {
		return err
	}
	opts := []controller.Option{controller.WithLogger(log), controller.WithRunID(runID)}
	if !cfg.Crawl.SecondPass {
		opts = append(opts, controller.WithoutSecondPass())
	}

	sum, runErr := controller.New(unit, opts...).Run(ctx, keys)
	if err := report.WriteMissing(cfg.Output.Missing, sum.Unresolved); err != nil {
		log.Error("failed to write missing list", "path", cfg.Output.Missing, "err", err)
	} else if len(sum.Unresolved) > 0 {
		log.Warn("unresolved keys written", "path", cfg.Output.Missing, "count", len(sum.Unresolved))
	}
	if err := report.Write(os.Stdout, sum, format); err != nil {
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		log.Warn("run interrupted")
	}
	return runErr
}
