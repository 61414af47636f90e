package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/correomqtt/correo-core/internal/session"
)

// maxConnectionIDLen bounds the {id} path parameter.
const maxConnectionIDLen = 64

// subscribeRequest is the request body for POST /connections/{id}/subscriptions.
type subscribeRequest struct {
	Topic string `json:"topic"`
	QoS   *int   `json:"qos,omitempty"`
}

// publishRequest is the request body for POST /connections/{id}/publish.
type publishRequest struct {
	Topic    string `json:"topic"`
	Payload  string `json:"payload"`
	QoS      *int   `json:"qos,omitempty"`
	Retained bool   `json:"retained"`
}

// handleListConnections returns every saved connection with its state.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	statuses := s.sessions.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": statuses,
		"count":       len(statuses),
	})
}

// handleGetConnection returns the state of one connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookupConnection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleConnect connects and waits for the broker's answer.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Connect(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w, id)
}

// handleDisconnect ends a session. Idle sessions are left alone.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}
	if err := s.sessions.Disconnect(r.Context(), id); err != nil {
		writeSessionError(w, err)
		return
	}
	s.writeStatus(w, id)
}

// handleListSubscriptions returns the active subscriptions of a connection.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}
	subs, err := s.sessions.Subscriptions(id)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// handleSubscribe subscribes a connected session to a topic filter.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Topic == "" {
		writeBadRequest(w, "topic is required")
		return
	}
	qos, ok := parseQoS(w, req.QoS, s.qos)
	if !ok {
		return
	}

	sub, err := s.sessions.Subscribe(r.Context(), id, req.Topic, qos)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// handleUnsubscribe removes the subscription named by the topic query
// parameter, or every subscription when it is absent.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	var err error
	if topic := r.URL.Query().Get("topic"); topic != "" {
		err = s.sessions.Unsubscribe(r.Context(), id, topic)
	} else {
		err = s.sessions.UnsubscribeAll(r.Context(), id)
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePublish publishes a message and returns it with its publish status.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Topic == "" {
		writeBadRequest(w, "topic is required")
		return
	}
	qos, ok := parseQoS(w, req.QoS, s.qos)
	if !ok {
		return
	}

	msg, err := s.sessions.Publish(r.Context(), id, req.Topic, []byte(req.Payload), qos, req.Retained)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// handleEvents streams the events of one connection as server-sent events.
// Each event name is the channel name used by the WebSocket hub.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookupConnection(w, r)
	if !ok {
		return
	}

	// Streams outlive the server's write timeout.
	//nolint:errcheck // Not every writer supports deadlines; the stream still works
	http.NewResponseController(w).SetWriteDeadline(time.Time{})

	s.logger.Debug("event stream opened", "connection_id", st.ID)
	s.sse.Handler(st.ID).ServeHTTP(w, r)
	s.logger.Debug("event stream closed", "connection_id", st.ID)
}

// lookupConnection resolves {id} against the saved connections.
func (s *Server) lookupConnection(w http.ResponseWriter, r *http.Request) (session.Status, bool) {
	id, ok := connectionID(w, r)
	if !ok {
		return session.Status{}, false
	}
	st, found := s.status(id)
	if !found {
		writeNotFound(w, "connection not found")
		return session.Status{}, false
	}
	return st, true
}

func (s *Server) status(id string) (session.Status, bool) {
	for _, st := range s.sessions.Statuses() {
		if st.ID == id {
			return st, true
		}
	}
	return session.Status{}, false
}

func (s *Server) writeStatus(w http.ResponseWriter, id string) {
	st, found := s.status(id)
	if !found {
		writeNotFound(w, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func connectionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxConnectionIDLen {
		writeBadRequest(w, "invalid connection ID")
		return "", false
	}
	return id, true
}

// parseQoS fills in the default for a missing QoS and rejects anything
// outside 0..2.
func parseQoS(w http.ResponseWriter, qos *int, def byte) (byte, bool) {
	if qos == nil {
		return def, true
	}
	if *qos < 0 || *qos > 2 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "qos must be 0, 1, or 2")
		return 0, false
	}
	return byte(*qos), true
}
