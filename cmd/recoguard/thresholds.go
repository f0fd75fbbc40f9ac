package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recoguard/recoguard/internal/quality"
	"github.com/recoguard/recoguard/internal/threshold"
)

func thresholdsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Validate and inspect threshold documents",
	}
	cmd.AddCommand(thresholdsValidateCmd(), thresholdsShowCmd())
	return cmd
}

func thresholdsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a threshold file without loading it into a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := threshold.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d stage ceilings)\n", args[0], len(set.Performance.Stages))
			return nil
		},
	}
}

func thresholdsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print the effective thresholds",
		Long: `Print the thresholds of a local file, the built-in defaults (--defaults),
or the set currently active on the server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, _ := cmd.Flags().GetBool("defaults")

			var (
				set    *threshold.Set
				source string
				err    error
			)
			switch {
			case defaults:
				set, source = threshold.Defaults(), "built-in defaults"
			case len(args) == 1:
				if set, err = threshold.LoadFile(args[0]); err != nil {
					return err
				}
				source = args[0]
			default:
				c, err := newClient(cmd)
				if err != nil {
					return err
				}
				active, err := get[thresholdsView](cmd.Context(), c, "/v1/thresholds", nil)
				if err != nil {
					return err
				}
				if active.Thresholds == nil {
					return fmt.Errorf("server returned no thresholds")
				}
				set = active.Thresholds
				source = fmt.Sprintf("%s (version %d)", c.base, active.Version)
			}

			if done, err := printJSON(cmd, set); done {
				return err
			}
			writeThresholds(cmd.OutOrStdout(), source, set)
			return nil
		},
	}
	cmd.Flags().Bool("defaults", false, "show the built-in defaults")
	return cmd
}

// thresholdsView is the data of GET /v1/thresholds.
type thresholdsView struct {
	Version    uint64         `json:"version"`
	Path       string         `json:"path"`
	Thresholds *threshold.Set `json:"thresholds"`
}

func writeThresholds(out io.Writer, source string, s *threshold.Set) {
	fmt.Fprintf(out, "Thresholds from %s\n\n", source)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tCRITICAL\tWARNING\tTARGET")
	for _, d := range []quality.Dimension{
		quality.Overall, quality.Relevance, quality.Novelty, quality.Explainability, quality.Diversity,
	} {
		t, _ := s.Quality.Tier(d)
		fmt.Fprintf(tw, "%s\t%.1f\t%.1f\t%.1f\n", d, t.Critical, t.Warning, t.Target)
	}
	tw.Flush()

	p := s.Performance.TotalMs
	fmt.Fprintf(out, "\nTotal time ceilings: p50 %.0fms  p95 %.0fms  p99 %.0fms\n", p.P50, p.P95, p.P99)
	if len(s.Performance.Stages) > 0 {
		stages := make([]string, 0, len(s.Performance.Stages))
		for name := range s.Performance.Stages {
			stages = append(stages, name)
		}
		sort.Strings(stages)
		for _, name := range stages {
			fmt.Fprintf(out, "  stage %-14s %.0fms\n", name, s.Performance.Stages[name])
		}
	}
	fmt.Fprintf(out, "Degrade below quality %.1f or above %.0fms\n", s.Degradation.Quality, s.Degradation.LatencyMs)
}
