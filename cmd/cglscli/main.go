package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/example/go-cgls/cgls"
	"github.com/example/go-cgls/cgls/catalog"
	"github.com/example/go-cgls/cgls/download"
)

func main() {
	// Credentials may live in a local .env; absence is fine.
	_ = godotenv.Load()

	root := &cli.Command{
		Name:    "cglscli",
		Usage:   "Browse and download Copernicus Global Land Service products",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Usage:   "Portal username",
				Sources: cli.EnvVars("CGLS_USER"),
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Portal password",
				Sources: cli.EnvVars("CGLS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "Override the manifest portal URL",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "HTTP client timeout",
				Value: 30 * time.Second,
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML config file with defaults",
				Sources: cli.EnvVars("CGLS_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			newCollectionsCommand(),
			newInfoCommand(),
			newDownloadCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCollectionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "collections",
		Usage: "List the available product collections",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, _, err := buildClient(cmd)
			if err != nil {
				return err
			}
			names, err := client.ListCollections(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(os.Stdout, name)
			}
			return nil
		},
	}
}

func newInfoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "Show the catalog summary for a collection",
		ArgsUsage: "<product>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one product name")
			}
			client, _, err := buildClient(cmd)
			if err != nil {
				return err
			}
			cat, err := client.LoadCollection(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprint(tw, cat.Summary())
			return tw.Flush()
		},
	}
}

func newDownloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download observation files for a collection",
		ArgsUsage: "<product>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "date",
				Usage:   "Observation date YYYY-MM-DD (repeatable); nearest earlier record is used",
				Aliases: []string{"d"},
			},
			&cli.StringFlag{
				Name:  "start",
				Usage: "Interval start date YYYY-MM-DD (requires --end)",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "Interval end date YYYY-MM-DD (requires --start)",
			},
			&cli.StringFlag{
				Name:  "rt",
				Usage: "Restrict to a real-time tag (e.g. RT0)",
			},
			&cli.BoolFlag{
				Name:  "all-rt",
				Usage: "Keep every real-time release instead of the latest per date",
			},
			&cli.StringFlag{
				Name:    "dest",
				Usage:   "Destination directory (default ./data/<product sub-path>)",
				Aliases: []string{"o"},
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of parallel downloads",
			},
			&cli.StringFlag{
				Name:  "s3-credentials-url",
				Usage: "Endpoint issuing temporary credentials for s3:// manifest entries",
			},
		},
		Action: executeDownload,
	}
}

func executeDownload(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one product name")
	}
	client, cfg, err := buildClient(cmd)
	if err != nil {
		return err
	}

	cat, err := client.LoadCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	selector, err := buildSelector(cmd)
	if err != nil {
		return err
	}

	var resolveOpts []catalog.ResolveOption
	if tag := strings.TrimSpace(cmd.String("rt")); tag != "" {
		resolveOpts = append(resolveOpts, catalog.WithRealTimeTag(tag))
	}
	if cmd.Bool("all-rt") {
		resolveOpts = append(resolveOpts, catalog.WithAllRealTimeRecords())
	}

	tasks, err := cat.Resolve(selector, resolveOpts...)
	if err != nil {
		return err
	}

	dest := strings.TrimSpace(cmd.String("dest"))
	if dest == "" {
		dest = cfg.Destination
	}

	opts := []cgls.DownloadOption{cgls.WithProgress(newProgressPrinter(os.Stderr))}
	concurrency := cmd.Int("concurrency")
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	if concurrency > 0 {
		opts = append(opts, cgls.WithDownloadConcurrency(concurrency))
	}
	credsURL := strings.TrimSpace(cmd.String("s3-credentials-url"))
	if credsURL == "" {
		credsURL = cfg.S3CredentialsURL
	}
	if credsURL != "" {
		opts = append(opts, cgls.WithS3CredentialsURL(credsURL))
	}

	fmt.Fprintf(os.Stderr, "Downloading %d file(s)...\n", len(tasks))
	paths, err := client.Download(ctx, tasks, dest, opts...)
	if err != nil {
		return err
	}
	for _, path := range paths {
		fmt.Fprintln(os.Stdout, path)
	}
	return nil
}

func buildSelector(cmd *cli.Command) (catalog.Selector, error) {
	start := strings.TrimSpace(cmd.String("start"))
	end := strings.TrimSpace(cmd.String("end"))
	dates := cmd.StringSlice("date")

	switch {
	case start != "" || end != "":
		if start == "" || end == "" {
			return catalog.Selector{}, fmt.Errorf("--start and --end must be given together")
		}
		if len(dates) > 0 {
			return catalog.Selector{}, fmt.Errorf("--date cannot be combined with --start/--end")
		}
		from, err := parseDate(start)
		if err != nil {
			return catalog.Selector{}, err
		}
		to, err := parseDate(end)
		if err != nil {
			return catalog.Selector{}, err
		}
		return catalog.Between(from, to), nil

	case len(dates) == 1:
		d, err := parseDate(dates[0])
		if err != nil {
			return catalog.Selector{}, err
		}
		return catalog.On(d), nil

	case len(dates) > 1:
		parsed := make([]time.Time, 0, len(dates))
		for _, raw := range dates {
			d, err := parseDate(raw)
			if err != nil {
				return catalog.Selector{}, err
			}
			parsed = append(parsed, d)
		}
		return catalog.Dates(parsed...), nil

	default:
		return catalog.Latest(), nil
	}
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse date %q: expected YYYY-MM-DD", raw)
}

func buildClient(cmd *cli.Command) (*cgls.Client, fileConfig, error) {
	root := cmd.Root()

	cfg, err := loadConfig(strings.TrimSpace(root.String("config")))
	if err != nil {
		return nil, cfg, err
	}

	user := strings.TrimSpace(root.String("user"))
	if user == "" {
		user = cfg.User
	}
	password := root.String("password")
	if password == "" {
		password = cfg.Password
	}

	level := zerolog.InfoLevel
	if root.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	opts := []cgls.Option{
		cgls.WithLogger(logger),
		cgls.WithUserAgent("cglscli/0.1.0"),
	}
	if timeout := root.Duration("timeout"); timeout > 0 {
		opts = append(opts, cgls.WithTimeout(timeout))
	}
	baseURL := strings.TrimSpace(root.String("base-url"))
	if baseURL == "" {
		baseURL = cfg.BaseURL
	}
	if baseURL != "" {
		opts = append(opts, cgls.WithBaseURL(baseURL))
	}

	client, err := cgls.NewClient(user, password, opts...)
	if err != nil {
		return nil, cfg, err
	}
	return client, cfg, nil
}

// progressPrinter throttles per-file progress lines so concurrent workers
// don't flood the terminal.
type progressPrinter struct {
	mu   sync.Mutex
	out  *os.File
	last map[string]int64
}

func newProgressPrinter(out *os.File) download.ProgressFunc {
	p := &progressPrinter{out: out, last: make(map[string]int64)}
	return p.report
}

const progressStep = 1 << 20 // 1 MiB between lines

func (p *progressPrinter) report(fp download.FileProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := fp.Total > 0 && fp.Downloaded >= fp.Total
	if !done && fp.Downloaded-p.last[fp.FileName] < progressStep {
		return
	}
	p.last[fp.FileName] = fp.Downloaded

	if fp.Total > 0 {
		fmt.Fprintf(p.out, "%s: %d/%d bytes\n", fp.FileName, fp.Downloaded, fp.Total)
	} else {
		fmt.Fprintf(p.out, "%s: %d bytes\n", fp.FileName, fp.Downloaded)
	}
}
