package report

import (
	"context"
	"time"

	"github.com/goodtune/zen/internal/storage"
	"github.com/rs/zerolog"
)

// Rollover closes each UTC day: it logs the finished day's summary and drops
// it from the cache so the next read sees the final records.
type Rollover struct {
	service *Service
	logger  zerolog.Logger
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	stopChan chan struct{}
	done     chan struct{}
	closed   chan time.Time // receives the start of every closed day
}

// NewRollover creates a rollover scheduler for service
func NewRollover(service *Service, logger zerolog.Logger) *Rollover {
	return &Rollover{
		service:  service,
		logger:   logger.With().Str("component", "report-rollover").Logger(),
		now:      time.Now,
		after:    time.After,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the rollover scheduler
func (r *Rollover) Start() {
	go r.run()
	r.logger.Info().Msg("Daily report rollover started")
}

// Stop stops the rollover scheduler and waits for it to exit
func (r *Rollover) Stop() {
	close(r.stopChan)
	<-r.done
	r.logger.Info().Msg("Daily report rollover stopped")
}

func (r *Rollover) run() {
	defer close(r.done)
	for {
		now := r.now().UTC()
		next := nextMidnight(now)

		r.logger.Debug().
			Time("next_rollover", next).
			Dur("wait_duration", next.Sub(now)).
			Msg("Scheduled next daily rollover")

		select {
		case <-r.after(next.Sub(now)):
			r.closeDay(next.Add(-24 * time.Hour))
		case <-r.stopChan:
			return
		}
	}
}

// nextMidnight returns the first UTC midnight strictly after now.
func nextMidnight(now time.Time) time.Time {
	return time.UnixMilli(storage.StartOfDay(now.UnixMilli()) + storage.Day).UTC()
}

// closeDay logs the summary of the day starting at day and evicts it.
func (r *Rollover) closeDay(day time.Time) {
	date := day.UnixMilli()
	r.service.Invalidate(date)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := r.service.ForDate(ctx, date)
	if err != nil {
		r.logger.Error().Err(err).Str("date", day.Format(time.DateOnly)).Msg("Failed to summarize finished day")
	} else {
		event := r.logger.Info().
			Str("date", day.Format(time.DateOnly)).
			Str("total", rep.DurationText()).
			Int("records", len(rep.Pulses))
		if sites := rep.DurationBySite(); len(sites) > 0 {
			event = event.Str("top_site", sites[0].Origin)
		}
		event.Msg("Daily rollover complete")

		// The finished day is rarely read again
		r.service.Invalidate(date)
	}

	if r.closed != nil {
		r.closed <- day
	}
}
