package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethanolivertroy/sbomgraph/internal/scanner"
	"github.com/ethanolivertroy/sbomgraph/internal/stats"
	"github.com/ethanolivertroy/sbomgraph/internal/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <sbom>...",
		Short: "Count the most common dependencies across SBOMs",
		Long: `Stats builds the dependency graph of each input and counts in how many of
them every package occurs. No vulnerability lookups are made.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runStats,
	}

	cmd.Flags().IntP("top", "n", 25, "Number of dependencies to show (0 for all)")
	cmd.Flags().Bool("json", false, "Print the counts as JSON")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	top, err := cmd.Flags().GetInt("top")
	if err != nil {
		return err
	}
	asJSON, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	s, err := scanner.New(cfg, scanner.WithLogger(slog.Default()), scanner.WithStore(store.NewMemory()))
	if err != nil {
		return errors.Wrap(err, "failed to initialize scanner")
	}
	defer s.Close()

	counter := stats.NewCounter()
	for _, path := range args {
		plan, err := s.Prepare(path)
		if err != nil {
			// Non-fatal: one unreadable SBOM should not void the others
			slog.Warn("skipping input", "path", path, "error", err)
			continue
		}
		counter.Add(plan.Graph.Nodes)
	}
	if counter.SBOMs() == 0 {
		return errors.New("no input could be read")
	}

	entries := counter.Top(top)
	summary := counter.Summary()
	if asJSON {
		data, err := json.MarshalIndent(struct {
			stats.Summary
			Top []stats.Entry `json:"top"`
		}{summary, entries}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%d unique dependencies, %d occurrences across %d SBOMs\n\n",
		summary.Unique, summary.Occurrences, summary.SBOMs)
	fmt.Println(stats.Render(entries, summary.SBOMs))
	return nil
}
