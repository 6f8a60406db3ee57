// Package server is the HTTP surface of the matching engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/asnar00/firefly/internal/config"
	db "github.com/asnar00/firefly/internal/db/gorm"
	"github.com/asnar00/firefly/internal/embedding"
	"github.com/asnar00/firefly/internal/matcher"
	"github.com/asnar00/firefly/internal/notify"
)

// Server wires the stores, matcher pool and notifier behind the HTTP
// routes. It is the composition root's view of the request layer.
type Server struct {
	cfg        *config.Config
	store      *db.Store
	posts      *db.PostStore
	users      *db.UserStore
	matches    *db.MatchStore
	embeddings *embedding.Store
	model      embedding.EmbeddingModel
	pool       *matcher.Pool
	matcher    *matcher.Matcher
	notifier   *notify.Notifier

	http *http.Server
}

// Deps carries everything the server needs.
type Deps struct {
	Config     *config.Config
	Store      *db.Store
	Posts      *db.PostStore
	Users      *db.UserStore
	Matches    *db.MatchStore
	Embeddings *embedding.Store
	Model      embedding.EmbeddingModel
	Pool       *matcher.Pool
	Matcher    *matcher.Matcher
	Notifier   *notify.Notifier
	Logger     zerolog.Logger
}

// New builds the server and its router.
func New(d Deps) *Server {
	s := &Server{
		cfg:        d.Config,
		store:      d.Store,
		posts:      d.Posts,
		users:      d.Users,
		matches:    d.Matches,
		embeddings: d.Embeddings,
		model:      d.Model,
		pool:       d.Pool,
		matcher:    d.Matcher,
		notifier:   d.Notifier,
	}

	r := chi.NewRouter()
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/api/ping", s.handlePing)

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/create", s.handleCreatePost)
		r.Post("/update", s.handleUpdatePost)
		r.Delete("/{id}", s.handleDeletePost)
		r.Get("/search", s.handleDenseSearch)
		r.Get("/{id}", s.handleGetPost)
	})

	r.Get("/api/search", s.handleQuerySearch)
	r.Post("/api/queries/badges", s.handleQueryBadges)

	r.Route("/api/notifications", func(r chi.Router) {
		r.Post("/poll", s.handlePoll)
		r.Post("/register-device", s.handleRegisterDevice)
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/profile", s.handleGetProfile)
		r.Post("/last-activity", s.handleLastActivity)
	})

	r.Post("/api/admin/regenerate-embeddings", s.handleRegenerateEmbeddings)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeSuccess(w, map[string]interface{}{"message": "pong"})
}
