package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"courtcrawl/internal/capture"
	"courtcrawl/internal/fanout"
	"courtcrawl/internal/retry"
	"courtcrawl/internal/sink"
	"courtcrawl/internal/workkey"

	"gopkg.in/yaml.v3"
)

// Config defines crawler configuration.
type Config struct {
	Site     string           `yaml:"site"`
	Browser  BrowserConfig    `yaml:"browser"`
	Output   OutputConfig     `yaml:"output"`
	Keys     KeysConfig       `yaml:"keys"`
	Retry    RetryConfig      `yaml:"retry"`
	Fanout   fanout.Config    `yaml:"fanout"`
	Crawl    CrawlConfig      `yaml:"crawl"`
	Capture  capture.Config   `yaml:"capture"`
	Reports  ReportsConfig    `yaml:"reports"`
	Counties []workkey.County `yaml:"counties"`
	Courts   CourtsConfig     `yaml:"courts"`
	Log      LogConfig        `yaml:"log"`
}

type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	ProxyURL string `yaml:"proxy"`
	Bin      string `yaml:"bin"`
	// Timeout bounds a single session operation.
	Timeout time.Duration `yaml:"timeout"`
}

type OutputConfig struct {
	sink.Config `yaml:",inline"`
	// Snapshots, when set, is a directory receiving a Markdown copy of
	// every detail view.
	Snapshots string `yaml:"snapshots"`
	// Missing is the file unresolved work keys are written to.
	Missing string `yaml:"missing"`
}

type KeysConfig struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
	// Holidays are excluded from weekday keys (YYYY-MM-DD).
	Holidays []string `yaml:"holidays"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Jitter   float64       `yaml:"jitter"`
}

type CrawlConfig struct {
	MaxPages   int  `yaml:"max_pages"`
	SecondPass bool `yaml:"second_pass"`
}

// ReportsConfig locates the monthly activity reports.
type ReportsConfig struct {
	// URL is the report server export endpoint, without query.
	URL string `yaml:"url"`
	// Name is the report identifier.
	Name string `yaml:"name"`
}

// CourtsConfig maps the court name shown in a results header to a code.
type CourtsConfig struct {
	Codes   map[string]int `yaml:"codes"`
	Default int            `yaml:"default"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration that runs with no file and no flags.
func Default() Config {
	return Config{
		Site: "gdcourt",
		Browser: BrowserConfig{
			Headless: true,
			Timeout:  30 * time.Second,
		},
		Output: OutputConfig{
			Config: sink.Config{
				Kind:   "csv",
				Dir:    "output",
				SQLite: "output/courtcrawl.db",
				Schema: "public",
			},
			Missing: "output/missing.txt",
		},
		Keys: KeysConfig{From: 2019, To: 2025},
		Retry: RetryConfig{
			Attempts: 10,
			Delay:    time.Second,
		},
		Fanout: fanout.Config{
			OpensPerSecond: 3,
			Burst:          1,
			Cooloff:        time.Minute,
		},
		Crawl: CrawlConfig{
			MaxPages:   100,
			SecondPass: true,
		},
		Capture: capture.Config{
			DownloadDir: "downloads",
			Dir:         "reports",
			Grace:       5 * time.Second,
			Poll:        250 * time.Millisecond,
			Load:        capture.DefaultLoad,
			Tool:        capture.Tool{Timeout: capture.DefaultTimeout},
		},
		Reports:  ReportsConfig{Name: "DSC_Felony_Activity_Detail_N"},
		Counties: defaultCounties(),
		Courts: CourtsConfig{
			Codes:   map[string]int{"Chesterfield General District Court": 43},
			Default: 999,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load applies, in order, the defaults, the YAML file at path (or
// COURTCRAWL_CONFIG when path is empty) and COURTCRAWL_* environment
// variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("COURTCRAWL_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"COURTCRAWL_SITE":         &cfg.Site,
		"COURTCRAWL_PROXY":        &cfg.Browser.ProxyURL,
		"COURTCRAWL_CHROME_BIN":   &cfg.Browser.Bin,
		"COURTCRAWL_OUT":          &cfg.Output.Dir,
		"COURTCRAWL_SINK":         &cfg.Output.Kind,
		"COURTCRAWL_SQLITE_PATH":  &cfg.Output.SQLite,
		"COURTCRAWL_PG_DSN":       &cfg.Output.DSN,
		"COURTCRAWL_PG_SCHEMA":    &cfg.Output.Schema,
		"COURTCRAWL_SNAPSHOTS":    &cfg.Output.Snapshots,
		"COURTCRAWL_MISSING":      &cfg.Output.Missing,
		"COURTCRAWL_CAPTURE_TOOL": &cfg.Capture.Tool.Path,
		"COURTCRAWL_DOWNLOAD_DIR": &cfg.Capture.DownloadDir,
		"COURTCRAWL_REPORT_URL":   &cfg.Reports.URL,
		"COURTCRAWL_LOG_LEVEL":    &cfg.Log.Level,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"COURTCRAWL_MAX_PAGES":      &cfg.Crawl.MaxPages,
		"COURTCRAWL_RETRY_ATTEMPTS": &cfg.Retry.Attempts,
		"COURTCRAWL_YEAR_FROM":      &cfg.Keys.From,
		"COURTCRAWL_YEAR_TO":        &cfg.Keys.To,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("COURTCRAWL_SHOWUI"); v != "" {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid COURTCRAWL_SHOWUI: %w", err)
		}
		cfg.Browser.Headless = !show
	}
	if v := os.Getenv("COURTCRAWL_RETRY_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid COURTCRAWL_RETRY_DELAY: %w", err)
		}
		cfg.Retry.Delay = d
	}
	return nil
}

// Validate rejects configurations that cannot start a run.
func (c Config) Validate() error {
	var problems []string
	if c.Site == "" {
		problems = append(problems, "site is empty")
	}
	if c.Browser.Timeout <= 0 {
		problems = append(problems, "browser.timeout must be positive")
	}
	if c.Retry.Attempts < 1 {
		problems = append(problems, "retry.attempts must be at least 1")
	}
	if c.Retry.Delay < 0 {
		problems = append(problems, "retry.delay is negative")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		problems = append(problems, "retry.jitter must be in [0, 1)")
	}
	if c.Crawl.MaxPages < 0 {
		problems = append(problems, "crawl.max_pages is negative")
	}
	switch c.Output.Kind {
	case "csv", "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown output.sink %q", c.Output.Kind))
	}
	if c.Output.Kind == "postgres" && c.Output.DSN == "" {
		problems = append(problems, "output.postgres_dsn is required for the postgres sink")
	}
	if _, err := c.HolidayDates(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy builds the interaction retry policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		Jitter:   c.Retry.Jitter,
	}
}

// HolidayDates parses Keys.Holidays.
func (c Config) HolidayDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Keys.Holidays))
	for _, h := range c.Keys.Holidays {
		t, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q", h)
		}
		out = append(out, t)
	}
	return out, nil
}

// Years returns the configured key years.
func (c Config) Years() []int {
	return workkey.Years(c.Keys.From, c.Keys.To)
}

// CourtCode maps a results header to its court code.
func (c Config) CourtCode(header string) int {
	if code, ok := c.Courts.Codes[strings.TrimSpace(header)]; ok {
		return code
	}
	return c.Courts.Default
}
