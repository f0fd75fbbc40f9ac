package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/recoguard/recoguard/internal/evaluator"
	"github.com/recoguard/recoguard/internal/monitor"
	"github.com/recoguard/recoguard/internal/quality"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch a governance report from the server",
		Long: `Fetch an aggregated report of recent governance records.

Granularity picks the window (hourly 1h, daily 24h); custom uses
--window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			granularity, _ := cmd.Flags().GetString("granularity")
			window, _ := cmd.Flags().GetDuration("window")
			if _, err := monitor.ParseGranularity(granularity); err != nil {
				return err
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q := url.Values{"granularity": {granularity}}
			if window > 0 {
				q.Set("window", window.String())
			}
			rep, err := get[monitor.Report](cmd.Context(), c, "/v1/reports", q)
			if err != nil {
				return err
			}

			if done, err := printJSON(cmd, rep); done {
				return err
			}
			writeReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringP("granularity", "g", string(monitor.GranularityDaily), "hourly, daily or custom")
	cmd.Flags().Duration("window", 0, "window for custom granularity")
	return cmd
}

func writeReport(out io.Writer, r monitor.Report) {
	fmt.Fprintf(out, "Report (%s) %s to %s\n",
		r.Granularity, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	if r.Empty {
		fmt.Fprintln(out, "No governance records in this window.")
		return
	}

	fmt.Fprintf(out, "Requests: %d from %d members (%.2f per member)\n",
		r.TotalRequests, r.UniqueMembers, r.AvgRequestsPerMember)
	fmt.Fprintf(out, "Degraded: %d (%.1f%%)\n\n", r.DegradedCount, r.DegradedRate*100)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tAVERAGE")
	for _, d := range []quality.Dimension{
		quality.Overall, quality.Relevance, quality.Novelty, quality.Explainability, quality.Diversity,
	} {
		fmt.Fprintf(tw, "%s\t%.1f\n", d, r.Averages[d])
	}
	tw.Flush()

	l := r.Latency
	fmt.Fprintf(out, "\nLatency: mean %.0fms  p50 %.0fms  p95 %.0fms  p99 %.0fms  slow %d (%.1f%%)\n",
		l.Mean, l.P50, l.P95, l.P99, r.SlowCount, r.SlowRate*100)
	fmt.Fprintf(out, "Trends: score %s, latency %s\n", r.ScoreTrend, r.LatencyTrend)

	fmt.Fprintf(out, "Alerts: %d", r.TotalAlerts)
	for _, s := range []evaluator.Severity{evaluator.SeverityCritical, evaluator.SeverityWarning, evaluator.SeverityInfo} {
		if n := r.AlertsBySeverity[s]; n > 0 {
			fmt.Fprintf(out, "  %s %d", s, n)
		}
	}
	fmt.Fprintln(out)
	if len(r.AlertsByMetric) > 0 {
		metrics := make([]string, 0, len(r.AlertsByMetric))
		for m := range r.AlertsByMetric {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		for _, m := range metrics {
			fmt.Fprintf(out, "  %-24s %d\n", m, r.AlertsByMetric[m])
		}
	}

	if len(r.Suggestions) > 0 {
		fmt.Fprintln(out, "\nSuggestions:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent alerts from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetDuration("window")
			severity, _ := cmd.Flags().GetString("severity")
			if _, err := evaluator.ParseSeverity(severity); err != nil {
				return err
			}

			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			q := url.Values{"window": {window.String()}, "severity": {severity}}
			list, err := get[alertList](cmd.Context(), c, "/v1/alerts", q)
			if err != nil {
				return err
			}

			if done, err := printJSON(cmd, list); done {
				return err
			}
			out := cmd.OutOrStdout()
			if list.Count == 0 {
				fmt.Fprintln(out, "No alerts.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSEVERITY\tMETRIC\tVALUE\tTHRESHOLD\tREQUEST")
			for _, a := range list.Alerts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%.1f\t%s\n",
					a.Timestamp.Format(time.RFC3339), a.Severity, a.Metric, a.Value, a.Threshold, a.RequestID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Duration("window", 24*time.Hour, "how far back to look")
	cmd.Flags().String("severity", string(evaluator.SeverityWarning), "minimum severity (info, warning, critical)")
	return cmd
}

// alertList is the data of GET /v1/alerts.
type alertList struct {
	Count  int               `json:"count"`
	Alerts []evaluator.Alert `json:"alerts"`
}
