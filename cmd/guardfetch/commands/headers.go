package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Lennolium/1Guard-server/pkg/headers"
	"github.com/Lennolium/1Guard-server/pkg/pipeline"
)

var headersCmd = &cobra.Command{
	Use:   "headers <url>",
	Short: "Print the browser header pool generated for a URL",
	Long: `Print the pool of browser header sets the pipeline chooses from when
fetching a URL, with the fingerprint each set claims.

Examples:
  guardfetch headers https://example.com
  guardfetch headers --seed 42 -f json http://example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runHeaders,
}

func init() {
	rootCmd.AddCommand(headersCmd)

	flags := headersCmd.Flags()
	flags.StringP("format", "f", "yaml", "output format: json, yaml")
	flags.Uint64("seed", 0, "seed for the common slots (default: random per run)")
}

type poolEntry struct {
	Slot        int                 `json:"slot" yaml:"slot"`
	Fingerprint headers.Fingerprint `json:"fingerprint" yaml:"fingerprint"`
	Headers     headers.Set         `json:"headers" yaml:"headers"`
}

func runHeaders(cmd *cobra.Command, args []string) error {
	src := pipeline.NewSecureSource()
	if cmd.Flags().Changed("seed") {
		seed, _ := cmd.Flags().GetUint64("seed")
		src = pipeline.NewSource(seed)
	}

	pool, err := headers.NewGenerator(src).Generate(args[0])
	if err != nil {
		return err
	}

	entries := make([]poolEntry, 0, len(pool))
	for i, set := range pool {
		fp, err := headers.Parse(set)
		if err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		entries = append(entries, poolEntry{Slot: i, Fingerprint: fp, Headers: set})
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(entries)
	default:
		return fmt.Errorf("unsupported output format: %s (use json or yaml)", format)
	}
}
