package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/internal/output"
	"github.com/Lennolium/1Guard-server/pkg/pipeline"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <domain>...",
	Short: "Fetch domains through the bypass pipeline",
	Long: `Fetch one or more domains and print a summary per domain.

Each domain is fetched independently. The command exits non-zero when any
fetch fails; the failure kind (not_reachable, phishing_flagged,
not_scrapable) is part of the summary.

Examples:
  guardfetch fetch example.com
  guardfetch fetch -f jsonl -c 4 example.com example.org
  guardfetch fetch --body -o page.json https://example.com/shop`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	flags := fetchCmd.Flags()

	// Output settings
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.StringP("format", "f", "text", "output format: text, json, jsonl, yaml")
	flags.Bool("text", false, "include the readable page text")
	flags.Bool("body", false, "include the raw body")
	flags.IntP("concurrency", "c", 1, "domains fetched concurrently")

	// Pipeline settings
	flags.Bool("force-remote-only", false, "skip the local bypass client")
	flags.Bool("race", false, "race the remote services instead of trying them in turn")
	flags.Duration("connect-timeout", 0, "direct connect timeout")
	flags.Duration("tool-timeout", 0, "local bypass client timeout")
	flags.Duration("service-timeout", 0, "remote service timeout")
	flags.String("max-body-size", "", "body size limit (e.g. 10MB)")
	flags.String("proxy", "", "proxy URL for the local bypass client (http:// or socks5://)")
	flags.Bool("archive", false, "fall back to the web archive after the remote services")
	flags.String("flaresolverr-url", "", "FlareSolverr API URL used as a last resort (e.g. http://localhost:8191/v1)")

	// Bind to viper
	_ = viper.BindPFlag("race_services", flags.Lookup("race"))
	_ = viper.BindPFlag("proxy_url", flags.Lookup("proxy"))
	_ = viper.BindPFlag("archive.enabled", flags.Lookup("archive"))
	_ = viper.BindPFlag("flaresolverr.url", flags.Lookup("flaresolverr-url"))
}

// applyOverrides copies explicitly set flags into viper. Zero-valued
// defaults are not bound so they do not shadow the config file.
func applyOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	for flag, key := range map[string]string{
		"connect-timeout": "timeouts.connect",
		"tool-timeout":    "timeouts.tool",
		"service-timeout": "timeouts.service",
	} {
		if flags.Changed(flag) {
			d, _ := flags.GetDuration(flag)
			viper.Set(key, d)
		}
	}
	if flags.Changed("max-body-size") {
		s, _ := flags.GetString("max-body-size")
		viper.Set("max_body_size", s)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	applyOverrides(cmd)
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		return err
	}
	logger.Debug("pipeline ready", "order", p.String(), "race", cfg.RaceServices)

	// Output destination
	var out io.Writer = os.Stdout
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	format, _ := cmd.Flags().GetString("format")
	w, err := output.NewWriter(out, output.Format(format))
	if err != nil {
		return err
	}

	var opts []output.SummaryOption
	if v, _ := cmd.Flags().GetBool("text"); v {
		opts = append(opts, output.WithText())
	}
	if v, _ := cmd.Flags().GetBool("body"); v {
		opts = append(opts, output.WithBody())
	}
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency < 1 {
		concurrency = 1
	}

	forceRemote, _ := cmd.Flags().GetBool("force-remote-only")
	results := fetchAll(ctx, p, args, forceRemote, concurrency, opts)

	failed := 0
	for _, s := range results {
		if !s.OK {
			failed++
		}
		if err := w.Write(s); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	logInfo("Fetched %d/%d domains", len(results)-failed, len(results))
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(results))
	}
	return nil
}

// fetchAll fetches domains with at most limit fetches in flight and returns
// the summaries in argument order.
func fetchAll(ctx context.Context, p *pipeline.Pipeline, domains []string, forceRemote bool, limit int, opts []output.SummaryOption) []output.Summary {
	results := make([]output.Summary, len(domains))

	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, domain := range domains {
		g.Go(func() error {
			start := time.Now()
			doc, err := p.Fetch(ctx, domain, forceRemote)
			results[i] = output.Summarize(domain, doc, err, time.Since(start), opts...)
			if err != nil {
				logger.Warn("fetch failed", "domain", domain, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
