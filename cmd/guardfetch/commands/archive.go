package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Lennolium/1Guard-server/internal/logger"
	"github.com/Lennolium/1Guard-server/pkg/bypass"
	"github.com/Lennolium/1Guard-server/pkg/headers"
	"github.com/Lennolium/1Guard-server/pkg/pipeline"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <url>",
	Short: "Fetch the newest web archive snapshot of a URL",
	Long: `Request a fresh web archive snapshot of a URL, falling back to the
newest existing capture, and print the page without the archive toolbar.

Examples:
  guardfetch archive https://example.com
  guardfetch archive --snapshot-only example.com
  guardfetch archive -o page.html https://example.com/shop`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)

	flags := archiveCmd.Flags()
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.Bool("snapshot-only", false, "print the snapshot URL instead of the page")
	flags.Duration("timeout", 2*time.Minute, "overall timeout")
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	target := args[0]
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}

	gen := headers.NewGenerator(pipeline.NewSecureSource())
	a := bypass.NewArchive(cfg.Archive, gen)

	if only, _ := cmd.Flags().GetBool("snapshot-only"); only {
		set, err := gen.Pick(target)
		if err != nil {
			return err
		}
		snapshot, err := a.Snapshot(ctx, target, set["User-Agent"])
		if err != nil {
			logger.Error("no snapshot", "url", target, "error", err)
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), snapshot)
		return err
	}

	resp, err := a.Fetch(ctx, target)
	if err != nil {
		logger.Error("archive fetch failed", "url", target, "error", err)
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(resp.Body); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	logInfo("Archived copy of %s from %s (%s)", target, resp.URL, humanize.Bytes(uint64(len(resp.Body))))
	return nil
}
