package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/zen/internal/limit"
	"github.com/goodtune/zen/internal/pulse"
	"github.com/goodtune/zen/internal/report"
	"github.com/goodtune/zen/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Submitter accepts pulses for aggregation.
type Submitter interface {
	Submit(ctx context.Context, p pulse.Pulse) error
}

// Reports loads per-day reports.
type Reports interface {
	ForDate(ctx context.Context, date int64) (*report.Report, error)
}

// LimitChecker answers limit checks for an origin.
type LimitChecker interface {
	Check(ctx context.Context, origin string) (*limit.Result, error)
}

// Handler serves pulses, reports and limits.
type Handler struct {
	batcher Submitter
	pulses  storage.PulseStore
	limits  storage.LimitStore
	reports Reports
	checker LimitChecker
	now     func() time.Time
	logger  zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(batcher Submitter, store storage.Store, reports Reports, checker LimitChecker, logger zerolog.Logger) *Handler {
	return &Handler{
		batcher: batcher,
		pulses:  store.Pulses(),
		limits:  store.Limits(),
		reports: reports,
		checker: checker,
		now:     time.Now,
		logger:  logger.With().Str("handler", "api").Logger(),
	}
}

// ListPulses returns the stored records of one day.
func (h *Handler) ListPulses(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(r.URL.Query().Get("date"), h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pulses, err := h.pulses.FindByDate(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Int64("date", date).Msg("Failed to find pulses")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve pulses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":   storage.StartOfDay(date),
		"pulses": pulses,
		"count":  len(pulses),
	})
}

// SubmitPulse accepts one pulse.
func (h *Handler) SubmitPulse(w http.ResponseWriter, r *http.Request) {
	var p pulse.Pulse
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.batcher.Submit(r.Context(), p); err != nil {
		h.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageResponse{OK: true})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pulse.ErrInvalidPulse):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pulse.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Shutting down")
	default:
		h.logger.Error().Err(err).Msg("Failed to submit pulse")
		writeError(w, http.StatusInternalServerError, "Failed to submit pulse")
	}
}

// GetReport returns the summary of one day, optionally for one site.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(mux.Vars(r)["date"], h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.reports.ForDate(r.Context(), date)
	if err != nil {
		h.logger.Error().Err(err).Int64("date", date).Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	if site := r.URL.Query().Get("site"); site != "" {
		rep = rep.WithSiteFilter(site)
	}

	writeJSON(w, http.StatusOK, rep.Summary())
}

// ListLimits returns all limits.
func (h *Handler) ListLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.limits.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list limits")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve limits")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"limits": limits,
		"count":  len(limits),
	})
}

// GetLimit returns one limit by id.
func (h *Handler) GetLimit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit id")
		return
	}

	l, err := h.limits.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Limit not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Uint64("id", id).Msg("Failed to get limit")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve limit")
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// CreateLimit stores a new limit.
func (h *Handler) CreateLimit(w http.ResponseWriter, r *http.Request) {
	var l storage.Limit
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := h.insertLimit(r.Context(), l)
	if err != nil {
		var invalid invalidLimitError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to create limit")
		writeError(w, http.StatusInternalServerError, "Failed to create limit")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

type invalidLimitError string

func (e invalidLimitError) Error() string { return string(e) }

func (h *Handler) insertLimit(ctx context.Context, l storage.Limit) (uint64, error) {
	l.Pattern = strings.TrimSpace(l.Pattern)
	if l.Pattern == "" {
		return 0, invalidLimitError("pattern is required")
	}
	if l.Minutes <= 0 {
		return 0, invalidLimitError("limit must be a positive number of minutes")
	}
	l.ID = 0
	return h.limits.Insert(ctx, l)
}

// CheckLimit reports whether a limit applies to an origin today.
func (h *Handler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	origin := r.URL.Query().Get("origin")
	if origin == "" {
		writeError(w, http.StatusBadRequest, "origin is required")
		return
	}

	result, err := h.checker.Check(r.Context(), origin)
	if err != nil {
		h.logger.Error().Err(err).Str("origin", origin).Msg("Failed to check limit")
		writeError(w, http.StatusInternalServerError, "Failed to check limit")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
