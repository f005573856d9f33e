package web

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nti-schack/leaderboard/internal/events"
	"github.com/nti-schack/leaderboard/internal/fetcher"
	"github.com/nti-schack/leaderboard/internal/leaderboard"
	"github.com/nti-schack/leaderboard/internal/store"
	"github.com/sirupsen/logrus"
)

// GameProxy forwards a game export request to the upstream provider.
type GameProxy interface {
	Proxy(ctx context.Context, username, rawQuery, authorization string) (*http.Response, error)
}

// Refresher runs one fetch pass.
type Refresher interface {
	FetchOnce(ctx context.Context) (fetcher.Summary, error)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	router    *chi.Mux
	store     store.Store
	board     *leaderboard.Service
	proxy     GameProxy
	refresher Refresher
	hub       *events.Hub
	sse       *SSEHub
	templates *template.Template

	refreshTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	// StaticFS serves /static/* when set.
	StaticFS fs.FS
	// RefreshTimeout bounds a manual fetch pass.
	RefreshTimeout time.Duration
}

// NewServer creates a new HTTP server. proxy and refresher may be nil, in
// which case their routes answer 503.
func NewServer(
	s store.Store,
	hub *events.Hub,
	proxy GameProxy,
	refresher Refresher,
	templates *template.Template,
	cfg Config,
) *Server {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Minute
	}
	board := leaderboard.NewService(s, s)
	srv := &Server{
		router:         chi.NewRouter(),
		store:          s,
		board:          board,
		proxy:          proxy,
		refresher:      refresher,
		hub:            hub,
		sse:            NewSSEHub(board),
		templates:      templates,
		refreshTimeout: cfg.RefreshTimeout,
	}

	srv.setupRoutes(cfg.StaticFS)
	return srv
}

func (s *Server) setupRoutes(staticFS fs.FS) {
	r := s.router

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if staticFS != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleRegisterUser)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/games", s.handleListGames)
		r.Post("/games", s.handleSubmitGame)
		r.Get("/games/user/{username}", s.handleProxyGames)
		r.Post("/refresh", s.handleRefresh)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "Not found")
		})
	})

	r.Get("/events", s.sse.HandleConnection)
	r.Get("/", s.handleIndex)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartSSE subscribes the SSE hub to change notifications until ctx is done.
func (s *Server) StartSSE(ctx context.Context) {
	if s.hub == nil {
		return
	}
	ch, cancel := s.hub.Subscribe()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	go s.sse.Run(ch)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.board.Snapshot(r.Context(), leaderboard.Window{})
	if err != nil {
		logrus.WithError(err).Error("Failed to build leaderboard")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := PageData{
		Podium:      ranked.Podium,
		Leaderboard: ranked.Leaderboard,
		Live:        s.hub != nil,
	}
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		logrus.WithError(err).Error("Template error")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// PageData holds data for the main page template.
type PageData struct {
	Podium      []leaderboard.PlayerStats
	Leaderboard []leaderboard.PlayerStats
	Live        bool
}
