package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/zen/internal/config"
	"github.com/goodtune/zen/internal/limit"
	"github.com/goodtune/zen/internal/report"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] ORIGIN",
	Short: "Check the limit decision for an origin",
	Long:  `Check today's usage of an origin against the stored limits and the loaded limit policies.`,
	Example: `  zen -c config.yaml check https://www.youtube.com
  zen check reddit.com`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	origin := args[0]

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := quietLogger()

	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine, err := limit.NewEngine(cfg.Limits.PolicyDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize limit engine: %w", err)
	}

	reports := report.NewService(store.Pulses(), report.Config{}, logger)
	checker := limit.NewChecker(engine, store.Limits(), reports, logger)

	result, err := checker.Check(context.Background(), origin)
	if err != nil {
		return fmt.Errorf("failed to check limit: %w", err)
	}

	printCheckResult(result)
	return nil
}

// printCheckResult prints the limit check result with colors
func printCheckResult(result *limit.Result) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	rule := strings.Repeat("━", 50)

	fmt.Println()
	_, _ = cyan.Println(rule)
	_, _ = cyan.Println("LIMIT CHECK")
	_, _ = cyan.Println(rule)
	fmt.Println()

	used := 0.0
	for _, site := range result.Usage {
		used += site.Duration.InexactFloat64()
	}

	fmt.Printf("Origin:     %s\n", result.Origin)
	fmt.Printf("Host:       %s\n", limit.HostOf(result.Origin))
	fmt.Printf("Used today: %s\n", formatSeconds(used))
	fmt.Println()

	decision := result.Decision
	_, _ = cyan.Print("Decision:   ")
	switch {
	case decision.Exceeded:
		_, _ = red.Println("EXCEEDED")
		fmt.Printf("            → Allowed %s per day\n", formatSeconds(decision.AllowedSeconds))
	case decision.Limited:
		_, _ = yellow.Println("LIMITED")
		fmt.Printf("            → Allowed %s per day\n", formatSeconds(decision.AllowedSeconds))
		fmt.Printf("            → %s remaining\n", formatSeconds(decision.RemainingSeconds))
	default:
		_, _ = green.Println("UNLIMITED")
		fmt.Println("            → No limit matches this origin")
	}

	if len(decision.Matched) > 0 {
		ids := make([]string, 0, len(decision.Matched))
		for _, id := range decision.Matched {
			ids = append(ids, fmt.Sprint(id))
		}
		fmt.Printf("Matched:    %s\n", strings.Join(ids, ", "))
	}

	fmt.Printf("Checked at: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Println()
	_, _ = cyan.Println(rule)
	fmt.Println()
}
