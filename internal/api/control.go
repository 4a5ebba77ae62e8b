package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-cell/internal/control"
)

// handleControlState returns the stored control row together with the
// loop's view of it.
func (s *Server) handleControlState(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || s.conveyor == nil {
		writeUnavailable(w, "control loop not configured")
		return
	}

	st, err := s.store.Get(r.Context(), s.equipmentID)
	if errors.Is(err, control.ErrStateNotFound) {
		writeNotFound(w, "no control state for "+s.equipmentID)
		return
	}
	if err != nil {
		s.logger.Error("reading control state failed", "equipment_id", s.equipmentID, "error", err)
		writeInternalError(w, "failed to read control state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"equipment_id": s.equipmentID,
		"state":        st,
		"loop":         s.conveyor.Snapshot(),
	})
}

// handleControlMove starts the conveyor in the stored direction. A stored
// run mode of STOP suppresses the move; the response reports Started=false.
func (s *Server) handleControlMove(w http.ResponseWriter, r *http.Request) {
	if s.conveyor == nil {
		writeUnavailable(w, "control loop not configured")
		return
	}

	res, err := s.conveyor.ManualStart(r.Context())
	if err != nil {
		s.logger.Error("manual start failed", "error", err)
		res.Message = err.Error()
		s.hub.Broadcast(ChannelControlMove, res)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}

	s.hub.Broadcast(ChannelControlMove, res)
	writeJSON(w, http.StatusOK, res)
}
