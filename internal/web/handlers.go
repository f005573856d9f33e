package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/game"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	maxBodyBytes     = 1 << 20
	defaultGameLimit = 50
	maxGameLimit     = 500
)

type userJSON struct {
	Username  string    `json:"username"`
	JoinRank  int       `json:"joinRank"`
	CreatedAt time.Time `json:"createdAt"`
}

type gameJSON struct {
	ID         string     `json:"id"`
	White      string     `json:"white"`
	Black      string     `json:"black"`
	Result     string     `json:"result"`
	Date       *time.Time `json:"date"`
	ExternalID string     `json:"lichessId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	name := game.CanonicalName(req.Username)
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing username")
		return
	}
	if len(name) > store.MaxUsernameLength {
		writeError(w, http.StatusBadRequest, "Username too long")
		return
	}

	user, created, err := s.store.RegisterUser(r.Context(), name)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if created {
		logrus.WithFields(logrus.Fields{"user": user.Username, "joinRank": user.JoinRank}).Info("User registered")
		s.emit(events.UserRegistered{Username: user.Username})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "created": created})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeServerError(w, err)
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, userJSON{Username: u.Username, JoinRank: u.JoinRank, CreatedAt: u.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ranked, err := s.board.Snapshot(r.Context(), window)
	if err != nil {
		writeServerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleSubmitGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		White     string `json:"white"`
		Black     string `json:"black"`
		Result    string `json:"result"`
		LichessID string `json:"lichess_id"`
	}
	body, err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid")
		return
	}

	white, black := game.CanonicalName(req.White), game.CanonicalName(req.Black)
	result, err := game.ParseResult(req.Result)
	if white == "" || black == "" || err != nil {
		writeError(w, http.StatusBadRequest, "Invalid")
		return
	}

	now := time.Now().UTC()
	g := &store.Game{
		White:      white,
		Black:      black,
		Result:     result.Notation(),
		Date:       &now,
		ExternalID: req.LichessID,
		RawJSON:    string(body),
	}
	recorded, err := s.store.RecordGame(r.Context(), g)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if !recorded {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true})
		return
	}

	logrus.WithFields(logrus.Fields{"white": white, "black": black, "result": g.Result}).Info("Game submitted")
	s.emit(events.GamesRecorded{Count: 1, Source: "api"})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": g.ID})
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	limit := defaultGameLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxGameLimit)
	}

	games, err := s.store.ListRecentGames(r.Context(), limit)
	if err != nil {
		writeServerError(w, err)
		return
	}
	out := make([]gameJSON, 0, len(games))
	for _, g := range games {
		out = append(out, gameJSON{
			ID:         g.ID,
			White:      g.White,
			Black:      g.Black,
			Result:     g.Result,
			Date:       g.Date,
			ExternalID: g.ExternalID,
			CreatedAt:  g.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProxyGames(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, "Game provider not configured")
		return
	}
	username := chi.URLParam(r, "username")
	if game.CanonicalName(username) == "" {
		writeError(w, http.StatusBadRequest, "Missing username")
		return
	}

	authorization := r.Header.Get("X-Token")
	if authorization == "" {
		authorization = r.Header.Get("Authorization")
	}

	resp, err := s.proxy.Proxy(r.Context(), username, r.URL.RawQuery, authorization)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user": username, "error": err}).Warn("Proxy request failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Upstream error", "details": err.Error()})
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logrus.WithError(err).Debug("Proxy copy interrupted")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "Game fetching not configured")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		defer cancel()
		if _, err := s.refresher.FetchOnce(ctx); err != nil {
			logrus.WithError(err).Error("Manual refresh failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) emit(e events.Event) {
	if s.hub != nil {
		s.hub.Emit(e)
	}
}

// parseWindow reads the optional from/to RFC 3339 query parameters.
func parseWindow(r *http.Request) (leaderboard.Window, error) {
	var w leaderboard.Window
	q := r.URL.Query()
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &w.From}, {"to", &w.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return w, errors.New("Invalid " + p.key + " date")
		}
		*p.dst = &t
	}
	return w, nil
}

// decodeBody reads the request body into v and returns the raw bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, err
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeServerError(w http.ResponseWriter, err error) {
	logrus.WithError(err).Error("Request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Server error", "details": err.Error()})
}
