package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/x69x/webmail/internal/model"
	"github.com/x69x/webmail/internal/provider"
	"github.com/x69x/webmail/internal/session"
)

// Server is the JSON/SSE boundary between the browser presentation and the
// session controller. It translates HTTP intents into controller calls and
// pushes state-change events to connected clients. All business rules live
// in the controller; the server only validates the boundary (required
// fields, account cap) and shapes responses.
type Server struct {
	cfg    *model.AppConfig
	ctrl   *session.Controller
	hub    *Hub
	logger *logrus.Logger
	mux    *http.ServeMux
}

func NewServer(cfg *model.AppConfig, ctrl *session.Controller, hub *Hub, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		hub:    hub,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/accounts", s.handleCreate)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/accounts/switch", s.handleSwitch)
	mux.HandleFunc("/api/logout", s.handleLogout)
	mux.HandleFunc("/api/accounts/delete", s.handleDelete)
	mux.HandleFunc("/api/accounts/remove", s.handleRemove)
	mux.HandleFunc("/api/accounts/password", s.handlePassword)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/messages/select", s.handleSelect)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// WatchChanges forwards controller state changes to the SSE hub until the
// context is cancelled. Run it in its own goroutine.
func (s *Server) WatchChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctrl.Changes():
			payload, err := json.Marshal(s.ctrl.Snapshot())
			if err != nil {
				s.logger.WithError(err).Warn("encoding state snapshot failed")
				continue
			}
			s.hub.Broadcast(payload)
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		LocalPart string `json:"local_part"`
		Password  string `json:"password"`
		Domain    string `json:"domain"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.LocalPart == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "local_part and password are required")
		return
	}
	if payload.Domain == "" {
		payload.Domain = s.cfg.Domain
	}
	if s.atAccountCap() {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("account limit reached (%d)", s.cfg.MaxAccounts))
		return
	}

	if _, err := s.ctrl.CreateAccount(r.Context(), payload.LocalPart, payload.Password, payload.Domain); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.Email == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if s.atAccountCap() && !s.knownEmail(payload.Email) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("account limit reached (%d)", s.cfg.MaxAccounts))
		return
	}

	if _, err := s.ctrl.Login(r.Context(), payload.Email, payload.Password); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}

	if !s.ctrl.SwitchAccount(r.Context(), payload.ID) {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	s.writeState(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.ctrl.Logout(r.Context())
	s.writeState(w)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}

	if err := s.ctrl.DeleteAccount(r.Context(), payload.ID); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}

	if err := s.ctrl.RemoveAccountLocally(r.Context(), payload.ID); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID          string `json:"id"`
		NewPassword string `json:"new_password"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}
	if payload.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new_password is required")
		return
	}

	if err := s.ctrl.ChangePassword(r.Context(), payload.ID, payload.NewPassword); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	// Fetch failures already resolve to an empty list; the refreshed
	// state is the answer either way.
	_ = s.ctrl.RefreshMessages(r.Context())
	s.writeState(w)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UID *int64 `json:"uid"`
	}
	if !s.decodePost(w, r, &payload) {
		return
	}

	if payload.UID == nil {
		s.ctrl.ClearSelection()
	} else if !s.ctrl.SelectMessage(*payload.UID) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	s.writeState(w)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Send the current state immediately so the client renders without
	// waiting for the first change.
	if payload, err := json.Marshal(s.ctrl.Snapshot()); err == nil {
		fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodePost enforces the POST method and decodes the JSON body. It writes
// the error response itself and reports whether the caller may proceed.
func (s *Server) decodePost(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// atAccountCap reports whether the boundary should refuse new accounts.
// The cap is a presentation concern, enforced here rather than in the
// controller.
func (s *Server) atAccountCap() bool {
	return len(s.ctrl.Snapshot().Accounts) >= s.cfg.MaxAccounts
}

func (s *Server) knownEmail(email string) bool {
	for _, acc := range s.ctrl.Snapshot().Accounts {
		if acc.Email == email {
			return true
		}
	}
	return false
}

// writeOpError maps controller failures onto HTTP responses: provider
// business errors and unknown ids are client-visible 4xx, everything else
// (transport trouble) is a 502.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case provider.IsProviderError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.WithError(err).Warn("provider call failed")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   s.ctrl.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
