// Package hub is the HTTP control surface for the network-split
// deployment: remote monitors push events and poll for commands, each
// authorized by a per-user bearer token persisted in the store.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rbxmon/rbxmon/internal/store"
)

// EventSink receives events pushed by monitors, normally forwarded to
// the operator's chat transport.
type EventSink func(user, title, description string)

// Server is the hub's HTTP server.
type Server struct {
	store *store.Store
	inbox *Inbox
	sink  EventSink

	mu       sync.Mutex
	statuses map[string]json.RawMessage

	http *http.Server
}

func NewServer(listen string, st *store.Store, sink EventSink) *Server {
	s := &Server{
		store:    st,
		inbox:    NewInbox(),
		sink:     sink,
		statuses: make(map[string]json.RawMessage),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("GET /poll/{user}", s.handlePoll)
	mux.HandleFunc("POST /status/{user}", s.handleStatus)
	mux.HandleFunc("POST /kill", s.handleKill)

	s.http = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Inbox exposes the command queue so the chat transport side can
// enqueue operator commands for polling monitors.
func (s *Server) Inbox() *Inbox { return s.inbox }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	slog.Info("Control hub listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the route table, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// authenticate resolves the bearer token to a user. Writes 401 and
// returns ok=false when the header is missing or the token unknown.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (user string, ok bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return "", false
	}
	user, known, err := s.store.LookupTokenUser(token)
	if err != nil {
		slog.Error("Token lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "", false
	}
	if !known {
		http.Error(w, "unknown token", http.StatusUnauthorized)
		return "", false
	}
	return user, true
}

// authorizeUser additionally checks the path user matches the token's
// owner; a valid token for someone else is 403.
func (s *Server) authorizeUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenUser, ok := s.authenticate(w, r)
	if !ok {
		return "", false
	}
	pathUser := r.PathValue("user")
	if pathUser != tokenUser {
		http.Error(w, "token does not match user", http.StatusForbidden)
		return "", false
	}
	return tokenUser, true
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var body struct {
		UserID      string `json:"user_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.UserID == "" || body.Title == "" {
		http.Error(w, "user_id and title are required", http.StatusBadRequest)
		return
	}
	if body.UserID != user {
		http.Error(w, "token does not match user", http.StatusForbidden)
		return
	}

	if s.sink != nil {
		s.sink(user, body.Title, body.Description)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}

	commands := s.inbox.Drain(user)
	if commands == nil {
		commands = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"commands": commands})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorizeUser(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.statuses[user] = raw
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// LastStatus returns the most recent status a user's monitor reported.
func (s *Server) LastStatus(user string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.statuses[user]
	return raw, ok
}

// handleKill is the legacy single-shot kill endpoint: the token
// arrives in the body rather than the header, and a valid token
// enqueues a kill command for its owner.
func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AuthToken == "" {
		http.Error(w, "auth_token is required", http.StatusBadRequest)
		return
	}

	user, known, err := s.store.LookupTokenUser(body.AuthToken)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !known {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	s.inbox.Push(user, "kill")
	w.WriteHeader(http.StatusOK)
}
