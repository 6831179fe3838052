package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/briandowns/spinner"
	"github.com/pkg/browser"

	"webmirror/internal/config"
	"webmirror/internal/fetcher"
	"webmirror/internal/mirror"
	"webmirror/internal/robots"
	"webmirror/internal/storage"
	"webmirror/internal/version"
)

// openInBrowser is replaced in tests.
var openInBrowser = browser.OpenFile

// Globals are flags shared by every command.
type Globals struct {
	Config   string           `help:"Path to configuration file" short:"c" type:"path"`
	LogLevel string           `help:"Log level: debug, info, warn or error" name:"log-level"`
	Version  kong.VersionFlag `help:"Print version and exit"`
}

// CLI flags structure
type CLI struct {
	Globals

	Save     SaveCmd     `cmd:"" default:"withargs" help:"Mirror a page, or a whole site."`
	Captures CapturesCmd `cmd:"" help:"List the captures a run recorded in the ledger database."`
}

// SaveCmd mirrors one URL.
type SaveCmd struct {
	URL          string        `arg:"" optional:"" help:"Page to mirror. Overrides mirror.url from the config file."`
	Output       string        `help:"Project folder the mirror is written into" short:"o"`
	Name         string        `help:"Sub-folder of the project folder for this job" short:"n"`
	Site         bool          `help:"Follow links on the same host and save them as pages"`
	Strategy     string        `help:"Execution strategy: sync, threaded or pool"`
	Workers      int           `help:"Worker count for the pool strategy" short:"w"`
	Overwrite    bool          `help:"Replace files that already exist"`
	NoJS         bool          `help:"Drop script references instead of saving them" name:"no-js"`
	Inline       []string      `help:"Tags whose resources are embedded as data: URIs" placeholder:"TAG"`
	Delay        time.Duration `help:"Minimum delay between requests to the same host"`
	BypassRobots bool          `help:"Ignore robots.txt"`
	Quiet        bool          `help:"Hide the progress spinner" short:"q"`
	Open         bool          `help:"Open the saved page in the default browser"`
}

// CapturesCmd prints ledger rows for a run.
type CapturesCmd struct {
	RunID    string `arg:"" help:"Run ID printed by the save command"`
	Kind     string `help:"Only show captures of this kind"`
	Search   string `help:"Substring matched against URLs and paths"`
	Page     int    `help:"Page number" default:"1"`
	PageSize int    `help:"Rows per page" default:"50"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("webmirror"),
		kong.Description("Save web pages for offline browsing."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// Run mirrors the configured URL and prints the saved document's path.
func (c *SaveCmd) Run(ctx context.Context, g *Globals) error {
	return c.run(ctx, g, os.Stdout, os.Stderr)
}

func (c *SaveCmd) run(ctx context.Context, g *Globals, stdout, stderr io.Writer) error {
	cfg, err := c.config(g)
	if err != nil {
		return err
	}

	logger, err := mirror.NewLogger(cfg.Logging, stderr)
	if err != nil {
		return err
	}

	session, err := fetcher.NewSession(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Headers:      cfg.Fetch.Headers,
		Timeout:      cfg.Fetch.Timeout.Duration,
		ProxyURL:     cfg.Fetch.ProxyURL,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		Delay:        cfg.Fetch.PerDomainDelay.Duration,
		RateLimit: fetcher.RateLimiterSettings{
			Requests: cfg.Fetch.RateLimitPerDomain.Requests,
			Window:   cfg.Fetch.RateLimitPerDomain.Window.Duration,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("initialise session: %w", err)
	}
	if cfg.Robots.Respect {
		session.UsePermission(robots.NewAgent(cfg.Robots, session.Client()))
	}

	var opts []mirror.Option
	if cfg.DB.DSN != "" {
		ledger, err := storage.OpenSQLLedger(cfg.DB)
		if err != nil {
			return fmt.Errorf("initialise capture ledger: %w", err)
		}
		defer ledger.Close()
		opts = append(opts, mirror.WithRecorder(ledger))
	}

	m, err := mirror.New(*cfg, session, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialise mirror: %w", err)
	}

	var spin *spinner.Spinner
	if !c.Quiet {
		spin = spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(stderr))
		spin.Suffix = " mirroring " + cfg.Mirror.URL
		spin.Start()
	}
	path, saveErr := m.SavePage(ctx)
	if spin != nil {
		spin.Stop()
	}
	if err := m.Close(); err != nil {
		logger.Warn("workers did not finish", "error", err)
	}
	if saveErr != nil {
		return saveErr
	}

	stats := m.Stats()
	fmt.Fprintln(stdout, path)
	logger.Info("saved",
		"path", path,
		"run_id", m.RunID(),
		"fetched", stats.Fetched,
		"written", stats.Written,
		"inlined", stats.Inlined,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"hits", stats.Hits,
	)
	for _, conflict := range m.Conflicts() {
		logger.Warn("kept existing file", slog.String("path", conflict))
	}
	if c.Open {
		logger.Info("opening browser", "path", path)
		if err := openInBrowser(path); err != nil {
			logger.Warn("could not open browser", "path", path, "error", err)
		}
	}
	return nil
}

// config reads the optional config file and applies flag overrides.
func (c *SaveCmd) config(g *Globals) (*config.Config, error) {
	cfg, err := baseConfig(g)
	if err != nil {
		return nil, err
	}

	if c.URL != "" {
		cfg.Mirror.URL = c.URL
	}
	if c.Output != "" {
		cfg.Mirror.ProjectFolder = c.Output
	}
	if c.Name != "" {
		cfg.Mirror.ProjectName = c.Name
	}
	if c.Site {
		cfg.Mirror.Mode = config.ModeSite
	}
	if c.Strategy != "" {
		cfg.Mirror.Strategy = c.Strategy
	}
	if c.Workers > 0 {
		cfg.Worker.Concurrency = c.Workers
	}
	if c.Overwrite {
		cfg.Mirror.Overwrite = true
	}
	if c.NoJS {
		cfg.Mirror.StripScripts = true
	}
	if len(c.Inline) > 0 {
		cfg.Mirror.InlineTags = append(cfg.Mirror.InlineTags, c.Inline...)
	}
	if c.Delay > 0 {
		cfg.Fetch.PerDomainDelay = config.DurationFrom(c.Delay)
	}
	if c.BypassRobots {
		cfg.Robots.Respect = false
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Run prints one page of captures as a table.
func (c *CapturesCmd) Run(ctx context.Context, g *Globals) error {
	return c.run(ctx, g, os.Stdout)
}

func (c *CapturesCmd) run(ctx context.Context, g *Globals, stdout io.Writer) error {
	cfg, err := baseConfig(g)
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.driver and db.dsn must be set to read captures")
	}
	ledger, err := storage.OpenSQLLedger(cfg.DB)
	if err != nil {
		return fmt.Errorf("open capture ledger: %w", err)
	}
	defer ledger.Close()
	return listCaptures(ctx, ledger, c, stdout)
}

type captureLister interface {
	ListCaptures(ctx context.Context, runID string, params storage.CaptureListParams) (storage.CaptureListResult, error)
}

func listCaptures(ctx context.Context, ledger captureLister, c *CapturesCmd, stdout io.Writer) error {
	res, err := ledger.ListCaptures(ctx, c.RunID, storage.CaptureListParams{
		Page:     c.Page,
		PageSize: c.PageSize,
		Search:   c.Search,
		Kind:     c.Kind,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tKIND\tURL\tPATH")
	for _, item := range res.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", item.StatusCode, item.Kind, item.URL, item.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "page %d, %d of %d captures\n", res.Page, len(res.Items), res.Total)
	return nil
}

// baseConfig decodes the config file, if any, over the defaults without
// validating; the URL may still come from the command line.
func baseConfig(g *Globals) (*config.Config, error) {
	cfg := config.Default()
	if g.Config != "" {
		fh, err := os.Open(g.Config)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer fh.Close()
		loaded, err := config.Decode(fh)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}
	cfg.Normalise()
	return &cfg, nil
}
