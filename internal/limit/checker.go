package limit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goodtune/zen/internal/metrics"
	"github.com/goodtune/zen/internal/report"
	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
)

// Reports provides the report of the current day.
type Reports interface {
	Today(ctx context.Context) (*report.Report, error)
}

// Result is the answer to a limit check.
type Result struct {
	Origin   string                `json:"origin"`
	Usage    []report.SiteActivity `json:"usage"`
	Decision Decision              `json:"decision"`
}

// Checker combines today's usage of an origin with the stored limits.
type Checker struct {
	engine  *Engine
	limits  storage.LimitStore
	reports Reports
	logger  zerolog.Logger
}

// NewChecker creates a limit checker
func NewChecker(engine *Engine, limits storage.LimitStore, reports Reports, logger zerolog.Logger) *Checker {
	return &Checker{
		engine:  engine,
		limits:  limits,
		reports: reports,
		logger:  logger.With().Str("component", "limit-checker").Logger(),
	}
}

// Check reports today's usage of origin and whether a limit applies to it.
func (c *Checker) Check(ctx context.Context, origin string) (*Result, error) {
	if origin == "" {
		return nil, fmt.Errorf("origin is required")
	}

	today, err := c.reports.Today(ctx)
	if err != nil {
		return nil, fmt.Errorf("load today's report: %w", err)
	}
	limits, err := c.limits.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}

	usage := make([]report.SiteActivity, 0, 1)
	for _, site := range today.DurationBySite() {
		if site.Origin == origin {
			usage = append(usage, site)
		}
	}

	input := Input{
		Origin:       origin,
		Host:         HostOf(origin),
		UsageSeconds: today.Site(origin).Duration.InexactFloat64(),
		Limits:       limits,
	}
	decision, err := c.engine.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	label := "unlimited"
	switch {
	case decision.Exceeded:
		label = "exceeded"
	case decision.Limited:
		label = "within"
	}
	metrics.LimitChecks.WithLabelValues(label).Inc()

	c.logger.Debug().
		Str("origin", origin).
		Float64("usage_seconds", input.UsageSeconds).
		Str("decision", label).
		Msg("Limit checked")

	return &Result{Origin: origin, Usage: usage, Decision: *decision}, nil
}

// HostOf extracts the lower-cased host name of an origin such as
// "https://www.example.com:8443". Values without a scheme are treated as hosts.
func HostOf(origin string) string {
	if strings.Contains(origin, "://") {
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
	}
	host := origin
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host)
}
