package api

import (
	"net/http"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/provisioning"
)

// handleBeginProvisioning starts a provisioning run. Progress arrives on
// the provisioning.status WebSocket channel.
func (s *Server) handleBeginProvisioning(w http.ResponseWriter, _ *http.Request) {
	if s.provisioner == nil {
		writeUnavailable(w, "provisioning not configured")
		return
	}

	runID, err := s.provisioner.Begin()
	if err != nil {
		s.logger.Warn("provisioning run not started", "error", err)
		writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "started",
	})
}

// handleListProvisioningRuns returns finished runs, newest first.
func (s *Server) handleListProvisioningRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "provisioning history not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing provisioning runs", "error", err)
		writeInternalError(w, "failed to list provisioning runs")
		return
	}
	if runs == nil {
		runs = []provisioning.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}
