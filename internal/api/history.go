package api

import (
	"errors"
	"net/http"
	"strconv"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleSubscribeHistory returns remembered subscription topics, newest first.
func (s *Server) handleSubscribeHistory(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.history.SubscribeHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading subscribe history failed", "connection_id", id, "error", err)
		writeInternalError(w, "failed to read subscribe history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": id,
		"entries":       entries,
		"count":         len(entries),
	})
}

// handlePublishHistory returns previously published messages, newest first.
func (s *Server) handlePublishHistory(w http.ResponseWriter, r *http.Request) {
	id, limit, ok := s.historyRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.history.PublishHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading publish history failed", "connection_id", id, "error", err)
		writeInternalError(w, "failed to read publish history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connection_id": id,
		"entries":       entries,
		"count":         len(entries),
	})
}

// historyRequest validates the connection and the limit query parameter.
func (s *Server) historyRequest(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is not available")
		return "", 0, false
	}
	st, ok := s.lookupConnection(w, r)
	if !ok {
		return "", 0, false
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return "", 0, false
	}
	return st.ID, limit, true
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, errors.New("limit exceeds maximum")
	}
	return limit, nil
}
