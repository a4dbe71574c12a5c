package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/nerrad567/loggergw/internal/device"
)

// List limits for history endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// handleListDevices returns all registered devices.
//
// Query parameters:
//   - status: filter by liveness (online, offline)
//   - vendor: filter by hardware vendor
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	status := device.Status(r.URL.Query().Get("status"))
	vendor := device.Vendor(r.URL.Query().Get("vendor"))
	if status != "" || vendor != "" {
		filtered := make([]device.Device, 0, len(devices))
		for _, d := range devices {
			if status != "" && d.Status != status {
				continue
			}
			if vendor != "" && d.Vendor() != vendor {
				continue
			}
			filtered = append(filtered, d)
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// createHardwareModelRequest is the body for POST /hardware-models.
type createHardwareModelRequest struct {
	Vendor    device.Vendor `json:"vendor"`
	Name      string        `json:"name"`
	SlotCount int           `json:"slot_count"`
}

// createDeviceRequest is the body for POST /devices. Liveness and telemetry
// fields are owned by check-ins and cannot be set here.
type createDeviceRequest struct {
	UID             string                    `json:"uid"`
	Code            *string                   `json:"code,omitempty"`
	Name            string                    `json:"name"`
	HardwareModelID string                    `json:"hardware_model_id"`
	UploadInterval  int                       `json:"upload_interval"`
	Sensors         []device.SensorAssignment `json:"sensors"`
}

// handleCreateHardwareModel registers a logger model and its slot count.
func (s *Server) handleCreateHardwareModel(w http.ResponseWriter, r *http.Request) {
	var body createHardwareModelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	model := &device.HardwareModel{Vendor: body.Vendor, Name: body.Name, SlotCount: body.SlotCount}
	if err := s.devices.CreateHardwareModel(r.Context(), model); err != nil {
		s.writeDeviceError(w, "creating hardware model", err)
		return
	}

	s.logger.Info("hardware model registered", "model_id", model.ID, "vendor", model.Vendor)
	writeJSON(w, http.StatusCreated, model)
}

// handleCreateDevice registers a logger so its check-ins are ingested.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var body createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev := &device.Device{
		UID:             body.UID,
		Code:            body.Code,
		Name:            body.Name,
		HardwareModelID: body.HardwareModelID,
		UploadInterval:  body.UploadInterval,
		Sensors:         body.Sensors,
	}
	if err := s.devices.Create(r.Context(), dev); err != nil {
		s.writeDeviceError(w, "creating device", err)
		return
	}

	attrs := []any{"device_uid", dev.UID, "vendor", dev.Vendor()}
	if claims := claimsFromContext(r.Context()); claims != nil {
		attrs = append(attrs, "operator", claims.Subject)
	}
	s.logger.Info("device registered", attrs...)
	writeJSON(w, http.StatusCreated, dev)
}

// writeDeviceError maps device registration errors onto responses.
func (s *Server) writeDeviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceExists):
		writeConflict(w, err.Error())
	case errors.Is(err, device.ErrHardwareModelNotFound),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidVendor),
		errors.Is(err, device.ErrInvalidSlot):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error(op, "error", err)
		writeInternalError(w, "failed to register device")
	}
}

// handleGetDevice returns a single device by the UID it reports.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListReadings returns the device's most recent batches, newest first.
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	if s.readings == nil {
		writeNotFound(w, "reading history not available")
		return
	}

	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	batches, err := s.readings.RecentBatches(r.Context(), dev.ID, limit)
	if err != nil {
		s.logger.Error("listing readings", "device_uid", dev.UID, "error", err)
		writeInternalError(w, "failed to list readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_uid": dev.UID,
		"batches":    batches,
		"count":      len(batches),
	})
}

// lookupDevice resolves the {uid} URL parameter, writing the error
// response itself when the device cannot be returned.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	uid := chi.URLParam(r, "uid")

	dev, err := s.devices.FindByUID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		s.logger.Error("looking up device", "device_uid", uid, "error", err)
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

// parseLimit reads the optional ?limit= parameter.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
