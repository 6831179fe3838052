package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"webmirror/internal/version"
)

// Mirror modes.
const (
	ModePage = "page"
	ModeSite = "site"
)

// Scheduling strategies.
const (
	StrategySync     = "sync"
	StrategyThreaded = "threaded"
	StrategyPool     = "pool"
)

// Config captures everything needed to run one mirror job.
type Config struct {
	Mirror  MirrorConfig  `yaml:"mirror"`
	Worker  WorkerConfig  `yaml:"worker"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Robots  RobotsConfig  `yaml:"robots"`
	Index   IndexConfig   `yaml:"index"`
	Logging LoggingConfig `yaml:"logging"`
	DB      SQLConfig     `yaml:"db"`
}

// MirrorConfig describes what to save and where.
type MirrorConfig struct {
	URL            string   `yaml:"url"`
	ProjectFolder  string   `yaml:"project_folder"`
	ProjectName    string   `yaml:"project_name"`
	Mode           string   `yaml:"mode"`
	Strategy       string   `yaml:"strategy"`
	Overwrite      bool     `yaml:"overwrite"`
	StripScripts   bool     `yaml:"strip_scripts"`
	InlineTags     []string `yaml:"inline_tags"`
	InlineMaxBytes int64    `yaml:"inline_max_bytes"`
	FollowExternal bool     `yaml:"follow_external"`
	JoinTimeout    Duration `yaml:"join_timeout"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

// WorkerConfig sizes the pool strategy. The threaded strategy starts one
// goroutine per resource and ignores it.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// FetchConfig controls the HTTP session.
type FetchConfig struct {
	UserAgent          string            `yaml:"user_agent"`
	Headers            map[string]string `yaml:"headers"`
	Timeout            Duration          `yaml:"timeout"`
	ProxyURL           string            `yaml:"proxy_url"`
	PerDomainDelay     Duration          `yaml:"per_domain_delay"`
	RateLimitPerDomain RateLimitConfig   `yaml:"rate_limit_per_domain"`
	MaxRedirects       int               `yaml:"max_redirects"`
}

// RateLimitConfig applies a token bucket per host.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// IndexConfig bounds the dedup index. Zero means unbounded.
type IndexConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// SQLConfig describes the optional capture ledger database.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	ua := version.UserAgent()
	return Config{
		Mirror: MirrorConfig{
			ProjectFolder:  ".",
			Mode:           ModePage,
			Strategy:       StrategySync,
			InlineMaxBytes: 32 * 1024,
			JoinTimeout:    DurationFrom(30 * time.Second),
			MaxBodyBytes:   16 * 1024 * 1024,
		},
		Worker: WorkerConfig{
			Concurrency: 8,
			QueueSize:   256,
		},
		Fetch: FetchConfig{
			UserAgent:    ua,
			Headers:      map[string]string{},
			Timeout:      DurationFrom(30 * time.Second),
			MaxRedirects: 10,
		},
		Robots: RobotsConfig{
			Respect:   true,
			Overrides: []string{},
			UserAgent: ua,
			CacheTTL:  DurationFrom(time.Hour),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
	}
}

// Load reads, normalises, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads YAML over the defaults and normalises it without validating,
// for callers that fill in the remaining fields themselves.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalise()
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate enforces the invariants a mirror job relies on.
func (c Config) Validate() error {
	if c.Mirror.URL == "" {
		return errors.New("mirror.url must be set")
	}
	u, err := url.Parse(c.Mirror.URL)
	if err != nil {
		return fmt.Errorf("mirror.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("mirror.url must be http or https (got %q)", c.Mirror.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("mirror.url %q missing host", c.Mirror.URL)
	}
	if strings.TrimSpace(c.Mirror.ProjectFolder) == "" {
		return errors.New("mirror.project_folder must be set")
	}
	switch c.Mirror.Mode {
	case ModePage, ModeSite:
	default:
		return fmt.Errorf("unsupported mirror.mode %q", c.Mirror.Mode)
	}
	switch c.Mirror.Strategy {
	case StrategySync, StrategyThreaded, StrategyPool:
	default:
		return fmt.Errorf("unsupported mirror.strategy %q", c.Mirror.Strategy)
	}
	if c.Mirror.InlineMaxBytes < 0 {
		return fmt.Errorf("mirror.inline_max_bytes must be >= 0 (got %d)", c.Mirror.InlineMaxBytes)
	}
	if c.Mirror.MaxBodyBytes <= 0 {
		return fmt.Errorf("mirror.max_body_bytes must be > 0 (got %d)", c.Mirror.MaxBodyBytes)
	}
	if c.Mirror.Strategy == StrategyPool {
		if c.Worker.Concurrency <= 0 {
			return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
		}
		if c.Worker.QueueSize <= 0 {
			return fmt.Errorf("worker.queue_size must be > 0 (got %d)", c.Worker.QueueSize)
		}
	}
	if rl := c.Fetch.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("fetch.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Fetch.MaxRedirects < 0 {
		return fmt.Errorf("fetch.max_redirects must be >= 0 (got %d)", c.Fetch.MaxRedirects)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Index.MaxEntries < 0 {
		return fmt.Errorf("index.max_entries must be >= 0 (got %d)", c.Index.MaxEntries)
	}
	if (c.DB.Driver == "") != (c.DB.DSN == "") {
		return errors.New("db.driver and db.dsn must be set together")
	}
	return nil
}

// Normalise trims and lower-cases free-form values. Load calls it; callers
// that build a Config by hand should call it before Validate.
func (c *Config) Normalise() {
	c.Mirror.URL = strings.TrimSpace(c.Mirror.URL)
	c.Mirror.ProjectFolder = strings.TrimSpace(c.Mirror.ProjectFolder)
	c.Mirror.ProjectName = strings.TrimSpace(c.Mirror.ProjectName)
	c.Mirror.Mode = strings.ToLower(strings.TrimSpace(c.Mirror.Mode))
	c.Mirror.Strategy = strings.ToLower(strings.TrimSpace(c.Mirror.Strategy))
	if len(c.Mirror.InlineTags) > 0 {
		c.Mirror.InlineTags = dedupeLower(c.Mirror.InlineTags)
	}

	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = c.Fetch.UserAgent
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-host rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
