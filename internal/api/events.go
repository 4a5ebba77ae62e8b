package api

import (
	"net/http"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nerrad567/gray-logic-cell/internal/eventlog"
)

// handleListEvents pages through the event log, newest first.
//
// Query parameters: equipment_id, source, limit, offset, format. format=msgpack
// answers with a MessagePack body for constrained panel clients.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeUnavailable(w, "event log not configured")
		return
	}

	q := r.URL.Query()
	filter := eventlog.Filter{
		EquipmentID: q.Get("equipment_id"),
		Source:      q.Get("source"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing events failed", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	if q.Get("format") != "msgpack" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	data, err := msgpack.Marshal(result)
	if err != nil {
		s.logger.Error("encoding events failed", "error", err)
		writeInternalError(w, "failed to encode events")
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // client may have gone
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
