package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/zen/internal/metrics"
	"github.com/goodtune/zen/internal/pulse"
	"github.com/goodtune/zen/internal/storage"
)

// MessageType names a message understood by the message endpoint.
type MessageType string

const (
	MessagePulse             MessageType = "pulse"
	MessageDataRequest       MessageType = "data_request"
	MessageLimitCheck        MessageType = "limit_check"
	MessageAddLimit          MessageType = "add_limit"
	MessageFindLimitsForSite MessageType = "find_limits_for_site"
)

// Message is a typed request from an observed page or a report viewer.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type datePayload struct {
	Date int64 `json:"date"`
}

type originPayload struct {
	Origin string `json:"origin"`
}

// HandleMessage dispatches a message by type. Pulses are acknowledged as
// soon as they are queued.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		h.reply(w, "invalid", http.StatusBadRequest, MessageResponse{Reason: "invalid message"})
		return
	}

	ctx := r.Context()
	switch msg.Type {
	case MessagePulse:
		var p pulse.Pulse
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: "invalid pulse payload"})
			return
		}
		if err := h.batcher.Submit(ctx, p); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, pulse.ErrInvalidPulse):
				status = http.StatusBadRequest
			case errors.Is(err, pulse.ErrClosed):
				status = http.StatusServiceUnavailable
			}
			h.reply(w, msg.Type, status, MessageResponse{Reason: err.Error()})
			return
		}
		h.reply(w, msg.Type, http.StatusOK, MessageResponse{OK: true})

	case MessageDataRequest:
		var payload datePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: "invalid data request payload"})
			return
		}
		if payload.Date == 0 {
			payload.Date = h.now().UnixMilli()
		}
		pulses, err := h.pulses.FindByDate(ctx, payload.Date)
		if err != nil {
			h.logger.Error().Err(err).Int64("date", payload.Date).Msg("Failed to find pulses")
			h.reply(w, msg.Type, http.StatusInternalServerError, MessageResponse{Reason: "failed to retrieve pulses"})
			return
		}
		h.reply(w, msg.Type, http.StatusOK, MessageResponse{OK: true, Data: pulses})

	case MessageLimitCheck:
		var payload originPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Origin == "" {
			h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: "origin is required"})
			return
		}
		result, err := h.checker.Check(ctx, payload.Origin)
		if err != nil {
			h.logger.Error().Err(err).Str("origin", payload.Origin).Msg("Failed to check limit")
			h.reply(w, msg.Type, http.StatusInternalServerError, MessageResponse{Reason: "failed to check limit"})
			return
		}
		h.reply(w, msg.Type, http.StatusOK, MessageResponse{OK: true, Data: result})

	case MessageAddLimit:
		var l storage.Limit
		if err := json.Unmarshal(msg.Payload, &l); err != nil {
			h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: "invalid limit payload"})
			return
		}
		id, err := h.insertLimit(ctx, l)
		if err != nil {
			var invalid invalidLimitError
			if errors.As(err, &invalid) {
				h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: err.Error()})
				return
			}
			h.logger.Error().Err(err).Msg("Failed to add limit")
			h.reply(w, msg.Type, http.StatusInternalServerError, MessageResponse{Reason: "failed to add limit"})
			return
		}
		h.reply(w, msg.Type, http.StatusOK, MessageResponse{OK: true, Data: id})

	case MessageFindLimitsForSite:
		var payload originPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Origin == "" {
			h.reply(w, msg.Type, http.StatusBadRequest, MessageResponse{Reason: "origin is required"})
			return
		}
		limits, err := h.limitsForSite(r, payload.Origin)
		if err != nil {
			h.logger.Error().Err(err).Str("origin", payload.Origin).Msg("Failed to find limits")
			h.reply(w, msg.Type, http.StatusInternalServerError, MessageResponse{Reason: "failed to find limits"})
			return
		}
		h.reply(w, msg.Type, http.StatusOK, MessageResponse{OK: true, Data: limits})

	default:
		h.reply(w, "unknown", http.StatusBadRequest, MessageResponse{Reason: "unknown message type"})
	}
}

// limitsForSite returns the stored limits the policy matched for origin.
func (h *Handler) limitsForSite(r *http.Request, origin string) ([]storage.Limit, error) {
	result, err := h.checker.Check(r.Context(), origin)
	if err != nil {
		return nil, err
	}
	all, err := h.limits.List(r.Context())
	if err != nil {
		return nil, err
	}

	matched := make(map[uint64]bool, len(result.Decision.Matched))
	for _, id := range result.Decision.Matched {
		matched[id] = true
	}
	limits := make([]storage.Limit, 0, len(matched))
	for _, l := range all {
		if matched[l.ID] {
			limits = append(limits, l)
		}
	}
	return limits, nil
}

func (h *Handler) reply(w http.ResponseWriter, msgType MessageType, status int, resp MessageResponse) {
	result := "ok"
	if !resp.OK {
		result = "error"
	}
	metrics.MessagesTotal.WithLabelValues(string(msgType), result).Inc()
	writeJSON(w, status, resp)
}
