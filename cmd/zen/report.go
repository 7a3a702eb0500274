package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/zen/internal/config"
	"github.com/goodtune/zen/internal/report"
	"github.com/spf13/cobra"
)

var (
	reportDate string
	reportSite string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the screen-time report of a day",
	Long:  `Print total time, time per site and hourly activity for one UTC day.`,
	Example: `  zen report
  zen -c config.yaml report --date 2024-03-05
  zen report --date 2024-03-05 --site https://www.youtube.com`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "Day to report (YYYY-MM-DD) - defaults to today")
	reportCmd.Flags().StringVar(&reportSite, "site", "", "Restrict totals and hourly activity to one origin")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	day, err := parseReportDate(reportDate, time.Now())
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage, quietLogger())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	pulses, err := store.Pulses().FindByDate(context.Background(), day.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to load pulses: %w", err)
	}

	printReport(report.New(day.UnixMilli(), pulses).WithSiteFilter(reportSite))
	return nil
}

// parseReportDate parses a YYYY-MM-DD day in UTC. An empty value means today.
func parseReportDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now.UTC().Truncate(24 * time.Hour), nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return day, nil
}

// printReport prints the report with colors
func printReport(r *report.Report) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	rule := strings.Repeat("━", 50)

	fmt.Println()
	_, _ = cyan.Println(rule)
	_, _ = cyan.Printf("SCREEN TIME %s\n", time.UnixMilli(r.Date).UTC().Format(time.DateOnly))
	_, _ = cyan.Println(rule)
	fmt.Println()

	if r.SiteFilter != "" {
		fmt.Printf("Site:       %s\n", r.SiteFilter)
	}
	_, _ = cyan.Print("Total:      ")
	_, _ = green.Println(r.DurationText())
	fmt.Println()

	sites := r.DurationBySite()
	_, _ = cyan.Println("By site:")
	if len(sites) == 0 {
		fmt.Println("  (no activity)")
	}
	for _, site := range sites {
		line := fmt.Sprintf("  %-40s %10s", site.Origin, formatSeconds(site.Duration.InexactFloat64()))
		if site.Origin == r.SiteFilter {
			_, _ = yellow.Println(line)
			continue
		}
		fmt.Println(line)
	}
	fmt.Println()

	_, _ = cyan.Println("By hour (minutes):")
	for _, point := range r.HourlyActivity() {
		minutes := point.Minutes.InexactFloat64()
		fmt.Printf("  %02d:00  %6.1f  %s\n", point.Hour, minutes, strings.Repeat("▇", int(minutes/2)))
	}

	fmt.Println()
	_, _ = cyan.Println(rule)
	fmt.Println()
}

func formatSeconds(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
