package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
)

// CommandRequest is the body of POST /devices/{id}/command.
type CommandRequest struct {
	Activate *bool `json:"activate"`
}

// TextRequest is the body of POST /devices/{id}/text.
type TextRequest struct {
	Text string `json:"text"`
}

// maxTextPayload bounds a raw text command to one datagram.
const maxTextPayload = 1024

// handleListDevices returns a snapshot of every registered device in
// registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleGetDeviceLogs returns the device's debug log, oldest line first.
// The optional max query parameter bounds the length of the result.
func (s *Server) handleGetDeviceLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	maxLen := 0
	if raw := r.URL.Query().Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "max must be a non-negative integer")
			return
		}
		maxLen = n
	}

	logs, err := s.telemetry.Logs(id, maxLen)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": device.CanonicalIdentity(id),
		"logs":     logs,
	})
}

// handleGetDeviceStatus returns the device's latest raw message.
func (s *Server) handleGetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.telemetry.LiveStatus(id)
	if err != nil {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"identity": device.CanonicalIdentity(id),
		"status":   status,
	})
}

// handleGetDeviceOutput returns the last reported output state. Unknown
// devices report UNKNOWN rather than 404.
func (s *Server) handleGetDeviceOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":     device.CanonicalIdentity(id),
		"output_state": s.telemetry.OutputState(id),
	})
}

// handleDeviceCommand switches the device output on or off.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Activate == nil {
		writeBadRequest(w, "activate is required")
		return
	}

	if err := s.telemetry.SendCommand(id, *req.Activate); err != nil {
		s.logSendFailure(id, "command", err)
		writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"identity": device.CanonicalIdentity(id),
		"activate": *req.Activate,
		"status":   "sent",
	})
}

// handleDeviceText sends an arbitrary text payload to the device.
func (s *Server) handleDeviceText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeBadRequest(w, "text is required")
		return
	}
	if len(req.Text) > maxTextPayload {
		writeBadRequest(w, "text exceeds 1024 bytes")
		return
	}

	if err := s.telemetry.SendText(id, req.Text); err != nil {
		s.logSendFailure(id, "text", err)
		writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"identity": device.CanonicalIdentity(id),
		"status":   "sent",
	})
}

// handleListSeenDevices returns devices persisted across restarts.
func (s *Server) handleListSeenDevices(w http.ResponseWriter, r *http.Request) {
	if s.seen == nil {
		writeUnavailable(w, "device history not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	devices, err := s.seen.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing seen devices", "error", err)
		writeInternalError(w, "failed to list device history")
		return
	}
	if devices == nil {
		devices = []device.SeenDevice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) logSendFailure(id, kind string, err error) {
	if errors.Is(err, device.ErrDeviceNotFound) {
		s.logger.Debug("send to unknown device", "identity", id, "kind", kind)
		return
	}
	s.logger.Warn("send to device failed", "identity", id, "kind", kind, "error", err)
}

// parseLimit reads the optional limit query parameter. Zero means the
// store's default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeBadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
