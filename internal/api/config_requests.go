package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/command"
)

// createConfigRequest is the body for POST /devices/{uid}/config-requests.
type createConfigRequest struct {
	Config   map[string]any `json:"config"`
	Priority int            `json:"priority"`
}

// cancelConfigRequest is the optional body for POST .../{id}/cancel.
type cancelConfigRequest struct {
	Reason string `json:"reason"`
}

// defaultCancelReason is recorded when the operator gives no reason.
const defaultCancelReason = "cancelled by operator"

// handleCreateConfigRequest queues a desired configuration for a device.
// The request is delivered on the device's next check-in.
func (s *Server) handleCreateConfigRequest(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var body createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(body.Config) == 0 {
		writeBadRequest(w, "config is required")
		return
	}

	req, err := s.queue.Enqueue(r.Context(), dev.ID, body.Config, body.Priority)
	if err != nil {
		if errors.Is(err, command.ErrInvalidConfig) {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("queueing config request", "device_uid", dev.UID, "error", err)
		writeInternalError(w, "failed to queue config request")
		return
	}

	claims := claimsFromContext(r.Context())
	if claims != nil {
		s.logger.Info("config request created by operator",
			"request_id", req.ID,
			"device_uid", dev.UID,
			"operator", claims.Subject,
		)
	}

	writeJSON(w, http.StatusCreated, req)
}

// handleListConfigRequests returns the device's requests, newest first.
func (s *Server) handleListConfigRequests(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	requests, err := s.queue.ListForDevice(r.Context(), dev.ID, limit)
	if err != nil {
		s.logger.Error("listing config requests", "device_uid", dev.UID, "error", err)
		writeInternalError(w, "failed to list config requests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_uid":      dev.UID,
		"config_requests": requests,
		"count":           len(requests),
	})
}

// handleGetConfigRequest returns one request belonging to the device.
func (s *Server) handleGetConfigRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lookupConfigRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleCancelConfigRequest fails a Pending or Sent request.
// Cancelling a Sent request does not recall the command from the device.
func (s *Server) handleCancelConfigRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.lookupConfigRequest(w, r)
	if !ok {
		return
	}

	var body cancelConfigRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	reason := body.Reason
	if reason == "" {
		reason = defaultCancelReason
	}

	if err := s.queue.MarkFailed(r.Context(), req.ID, reason); err != nil {
		if errors.Is(err, command.ErrInvalidTransition) {
			writeConflict(w, "config request is already "+string(req.Status))
			return
		}
		s.logger.Error("cancelling config request", "request_id", req.ID, "error", err)
		writeInternalError(w, "failed to cancel config request")
		return
	}

	updated, err := s.queue.Get(r.Context(), req.ID)
	if err != nil {
		writeInternalError(w, "failed to reload config request")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// lookupConfigRequest resolves {uid} and {id}. A request that belongs to
// another device is reported as not found.
func (s *Server) lookupConfigRequest(w http.ResponseWriter, r *http.Request) (*command.Request, bool) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return nil, false
	}

	id := chi.URLParam(r, "id")
	req, err := s.queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, command.ErrRequestNotFound) {
			writeNotFound(w, "config request not found")
			return nil, false
		}
		s.logger.Error("loading config request", "request_id", id, "error", err)
		writeInternalError(w, "failed to get config request")
		return nil, false
	}
	if req.DeviceID != dev.ID {
		writeNotFound(w, "config request not found")
		return nil, false
	}
	return req, true
}
