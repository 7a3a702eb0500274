// Package report builds per-day screen-time reports from stored pulses.
package report

import (
	"cmp"
	"slices"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// SiteActivity is the time spent on one origin during the report day.
type SiteActivity struct {
	Origin    string          `json:"origin"`
	StartTime int64           `json:"startTime"`
	Duration  decimal.Decimal `json:"duration"`
}

// HourlyActivity is the time spent during one clock hour, in minutes.
type HourlyActivity struct {
	Hour    int             `json:"hour"`
	Minutes decimal.Decimal `json:"minutes"`
}

// Report is the activity of one UTC day, optionally narrowed to one origin.
type Report struct {
	Date       int64           `json:"date"`
	SiteFilter string          `json:"siteFilter,omitempty"`
	Pulses     []storage.Pulse `json:"pulses"`
}

// New creates a report for the day starting at date.
func New(date int64, pulses []storage.Pulse) *Report {
	if pulses == nil {
		pulses = []storage.Pulse{}
	}
	return &Report{Date: storage.StartOfDay(date), Pulses: pulses}
}

// WithSiteFilter returns a copy of the report restricted to origin.
// An empty origin removes the filter.
func (r *Report) WithSiteFilter(origin string) *Report {
	filtered := *r
	filtered.SiteFilter = origin
	return &filtered
}

// Filtered returns the pulses that pass the site filter.
func (r *Report) Filtered() []storage.Pulse {
	if r.SiteFilter == "" {
		return r.Pulses
	}
	out := make([]storage.Pulse, 0)
	for _, p := range r.Pulses {
		if p.Origin == r.SiteFilter {
			out = append(out, p)
		}
	}
	return out
}

// Duration is the total filtered time in seconds.
func (r *Report) Duration() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Filtered() {
		total = total.Add(p.Duration)
	}
	return total
}

// DurationText formats Duration for people, rounded to the second.
func (r *Report) DurationText() string {
	return time.Duration(r.Duration().Round(0).IntPart() * int64(time.Second)).String()
}

// HourlyActivity groups the filtered pulses by hour, ordered by hour.
func (r *Report) HourlyActivity() []HourlyActivity {
	byStart := map[int64]decimal.Decimal{}
	for _, p := range r.Filtered() {
		byStart[p.StartTime] = byStart[p.StartTime].Add(p.Duration)
	}

	starts := make([]int64, 0, len(byStart))
	for start := range byStart {
		starts = append(starts, start)
	}
	slices.Sort(starts)

	points := make([]HourlyActivity, 0, len(starts))
	for _, start := range starts {
		points = append(points, HourlyActivity{
			Hour:    time.UnixMilli(start).UTC().Hour(),
			Minutes: byStart[start].Div(sixty),
		})
	}
	return points
}

// DurationBySite sums the day's time per origin, longest first and then by
// origin. The site filter does not apply so every site stays comparable.
func (r *Report) DurationBySite() []SiteActivity {
	byOrigin := map[string]decimal.Decimal{}
	for _, p := range r.Pulses {
		byOrigin[p.Origin] = byOrigin[p.Origin].Add(p.Duration)
	}

	sites := make([]SiteActivity, 0, len(byOrigin))
	for origin, d := range byOrigin {
		sites = append(sites, SiteActivity{Origin: origin, StartTime: r.Date, Duration: d})
	}
	slices.SortFunc(sites, func(a, b SiteActivity) int {
		if c := b.Duration.Cmp(a.Duration); c != 0 {
			return c
		}
		return cmp.Compare(a.Origin, b.Origin)
	})
	return sites
}

// Site returns the day's activity for one origin, or zero if it had none.
func (r *Report) Site(origin string) SiteActivity {
	for _, site := range r.DurationBySite() {
		if site.Origin == origin {
			return site
		}
	}
	return SiteActivity{Origin: origin, StartTime: r.Date, Duration: decimal.Zero}
}

// Summary is the serialized form of a report.
type Summary struct {
	Date           int64            `json:"date"`
	SiteFilter     string           `json:"siteFilter,omitempty"`
	Duration       decimal.Decimal  `json:"duration"`
	DurationText   string           `json:"durationText"`
	DurationBySite []SiteActivity   `json:"durationBySite"`
	HourlyActivity []HourlyActivity `json:"hourlyActivity"`
}

// Summary computes every aggregate of the report.
func (r *Report) Summary() Summary {
	return Summary{
		Date:           r.Date,
		SiteFilter:     r.SiteFilter,
		Duration:       r.Duration(),
		DurationText:   r.DurationText(),
		DurationBySite: r.DurationBySite(),
		HourlyActivity: r.HourlyActivity(),
	}
}
