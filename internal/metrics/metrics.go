package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Pulse pipeline metrics
	PulsesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_pulses_received_total",
			Help: "Total pulses received, by outcome",
		},
		[]string{"result"},
	)

	PulseSecondsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zen_pulse_seconds_received_total",
			Help: "Total screen time carried by accepted pulses, in seconds",
		},
	)

	BatchesFlushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zen_batches_flushed_total",
			Help: "Total accumulator snapshots handed to the writer",
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zen_batch_records",
			Help:    "Number of origin/hour records per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	FlushDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zen_flush_delay_seconds",
			Help:    "Randomized delay between the first pulse of a cycle and its flush",
			Buckets: []float64{.5, 1, 2, 4, 6, 8, 10, 15, 30},
		},
	)

	PendingBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zen_pending_batches",
			Help: "Number of snapshots waiting for the writer",
		},
	)

	// Storage metrics
	UpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_upserts_total",
			Help: "Total pulse record upserts, by outcome",
		},
		[]string{"result"},
	)

	UpsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zen_upsert_duration_seconds",
			Help:    "Upsert duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Report and limit metrics
	ReportCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zen_report_cache_hits_total",
			Help: "Report cache hits",
		},
	)

	ReportCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zen_report_cache_misses_total",
			Help: "Report cache misses",
		},
	)

	LimitChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_limit_checks_total",
			Help: "Total limit checks, by decision",
		},
		[]string{"decision"},
	)

	// API metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zen_messages_total",
			Help: "Total messages handled by the API, by type and outcome",
		},
		[]string{"type", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PulsesReceived,
		PulseSecondsReceived,
		BatchesFlushed,
		BatchSize,
		FlushDelay,
		PendingBatches,
		UpsertsTotal,
		UpsertDuration,
		ReportCacheHits,
		ReportCacheMisses,
		LimitChecks,
		MessagesTotal,
	)
}

// Server exposes /metrics and /health over HTTP.
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // set when systemd hands over the socket
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start serves in the background until Stop is called.
func (s *Server) Start() error {
	if s.listener == nil {
		ln, err := net.Listen("tcp", s.server.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
		s.listener = ln
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
	}

	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
