package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/fetcher"
	"github.com/nti-schack/leaderboard/internal/lichess"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	called chan struct{}
}

func (f *fakeRefresher) FetchOnce(ctx context.Context) (fetcher.Summary, error) {
	f.called <- struct{}{}
	return fetcher.Summary{}, nil
}

func newTestServer(t *testing.T, proxy GameProxy, refresher Refresher) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tmpl, err := DefaultTemplates()
	require.NoError(t, err)

	return NewServer(s, events.NewHub(), proxy, refresher, tmpl, Config{}), s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRegisterUser(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	rec := do(t, srv, http.MethodPost, "/api/users", `{"username":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing username", decode[map[string]string](t, rec)["error"])

	rec = do(t, srv, http.MethodPost, "/api/users", `{"username":"`+strings.Repeat("x", 65)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/users", `{"username":" Magnus "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "created": true}, decode[map[string]any](t, rec))

	rec = do(t, srv, http.MethodPost, "/api/users", `{"username":"MAGNUS"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["created"])

	do(t, srv, http.MethodPost, "/api/users", `{"username":"hikaru"}`)

	rec = do(t, srv, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]userJSON](t, rec)
	require.Len(t, users, 2)
	assert.Equal(t, "magnus", users[0].Username)
	assert.Equal(t, 1, users[0].JoinRank)
	assert.Equal(t, 2, users[1].JoinRank)
}

func TestSubmitGame(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	for _, u := range []string{"alice", "bob"} {
		do(t, srv, http.MethodPost, "/api/users", `{"username":"`+u+`"}`)
	}

	for _, body := range []string{
		`{"white":"alice","black":"bob","result":"2-0"}`,
		`{"white":"alice","result":"1-0"}`,
		`not json`,
	} {
		rec := do(t, srv, http.MethodPost, "/api/games", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Invalid", decode[map[string]string](t, rec)["error"])
	}

	rec := do(t, srv, http.MethodPost, "/api/games", `{"white":"Alice","black":"bob","result":"1-0","lichess_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[map[string]any](t, rec)["id"])

	rec = do(t, srv, http.MethodPost, "/api/games", `{"white":"alice","black":"bob","result":"1-0","lichess_id":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "duplicate": true}, decode[map[string]any](t, rec))

	rec = do(t, srv, http.MethodPost, "/api/games", `{"white":"alice","black":"bob","result":"1/2-1/2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/games?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	games := decode[[]gameJSON](t, rec)
	require.Len(t, games, 2)
	for _, g := range games {
		assert.Equal(t, "alice", g.White)
		assert.NotNil(t, g.Date)
	}

	rec = do(t, srv, http.MethodGet, "/api/games?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboard(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	rec := do(t, srv, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"podium":[],"leaderboard":[]}`, rec.Body.String())

	for _, u := range []string{"a", "b", "c", "d"} {
		do(t, srv, http.MethodPost, "/api/users", `{"username":"`+u+`"}`)
	}
	do(t, srv, http.MethodPost, "/api/games", `{"white":"a","black":"b","result":"1-0","lichess_id":"1"}`)
	do(t, srv, http.MethodPost, "/api/games", `{"white":"d","black":"c","result":"1-0","lichess_id":"2"}`)
	do(t, srv, http.MethodPost, "/api/games", `{"white":"d","black":"a","result":"1-0","lichess_id":"3"}`)

	rec = do(t, srv, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ranked struct {
		Podium      []struct{ Name string }
		Leaderboard []struct {
			Name string
			Wins int
		}
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	require.Len(t, ranked.Podium, 3)
	assert.Equal(t, "d", ranked.Podium[0].Name)
	assert.Equal(t, "a", ranked.Podium[1].Name)
	require.Len(t, ranked.Leaderboard, 1)
	assert.Equal(t, "c", ranked.Leaderboard[0].Name)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec = do(t, srv, http.MethodGet, "/api/leaderboard?from="+future, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	// Members still appear, with no games in the window.
	assert.Len(t, ranked.Podium, 3)
	assert.Equal(t, 0, ranked.Leaderboard[0].Wins)

	rec = do(t, srv, http.MethodGet, "/api/leaderboard?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyGames(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"id":"g1"}`+"\n")
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, lichess.NewClient(upstream.URL, ""), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/games/user/Magnus?max=5&opening=true", nil)
	req.Header.Set("X-Token", "secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"id":"g1"}`+"\n", rec.Body.String())
	assert.Equal(t, "/api/games/user/Magnus", gotPath)
	assert.Equal(t, "max=5&opening=true", gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestProxyGames_NotConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := do(t, srv, http.MethodGet, "/api/games/user/magnus", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefresh(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodPost, "/api/refresh", "").Code)

	ref := &fakeRefresher{called: make(chan struct{}, 1)}
	srv, _ = newTestServer(t, nil, ref)
	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/refresh", "").Code)

	select {
	case <-ref.called:
	case <-time.After(time.Second):
		t.Fatal("refresh did not run")
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := do(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestIndexPage(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	for _, u := range []string{"alice", "bob", "carol", "averyverylongname"} {
		do(t, srv, http.MethodPost, "/api/users", `{"username":"`+u+`"}`)
	}
	do(t, srv, http.MethodPost, "/api/games", `{"white":"averyverylongname","black":"bob","result":"0-1"}`)

	rec := do(t, srv, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bob")
	assert.Contains(t, body, "averyveryl…")
	assert.Contains(t, body, `<div class="entry-rank">4</div>`)
}

func TestShortenName(t *testing.T) {
	assert.Equal(t, "", shortenName(""))
	assert.Equal(t, "tenletters", shortenName("tenletters"))
	assert.Equal(t, "elevenlett…", shortenName("elevenlette"))
	assert.Equal(t, "åäöåäöåäöå…", shortenName("åäöåäöåäöåäö"))
}

func TestEvents_PushesLeaderboard(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.StartSSE(ctx)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextData := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
		t.Fatal("stream ended")
		return ""
	}

	assert.JSONEq(t, `{"podium":[],"leaderboard":[]}`, nextData())

	post, err := http.Post(ts.URL+"/api/users", "application/json", strings.NewReader(`{"username":"alice"}`))
	require.NoError(t, err)
	post.Body.Close()

	assert.Contains(t, nextData(), `"name":"alice"`)
}
