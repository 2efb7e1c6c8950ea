// Package web serves the browser client: server-rendered views over the
// session, capture, handoff and history packages.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/capture"
	"github.com/raine/skinanalyze/internal/guard"
	"github.com/raine/skinanalyze/internal/handoff"
	"github.com/raine/skinanalyze/internal/history"
	"github.com/raine/skinanalyze/internal/session"
	"github.com/raine/skinanalyze/internal/skinapi"
)

// API is the part of the API client the web shell calls directly.
type API interface {
	Register(ctx context.Context, username, email, password string) error
	Login(ctx context.Context, username, password string) (skinapi.LoginResponse, error)
	ImageURL(ref string) string
}

type Deps struct {
	Sessions *session.Store
	API      API
	Flows    *capture.Flows
	Handoffs *handoff.Store
	History  *history.Views
}

type Server struct {
	sessions *session.Store
	api      API
	flows    *capture.Flows
	handoffs *handoff.Store
	history  *history.Views

	views   *views
	decoder *schema.Decoder
}

func NewServer(deps Deps) (*Server, error) {
	v, err := parseViews()
	if err != nil {
		return nil, err
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &Server{
		sessions: deps.Sessions,
		api:      deps.API,
		flows:    deps.Flows,
		handoffs: deps.Handoffs,
		history:  deps.History,
		views:    v,
		decoder:  decoder,
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverer, clientIDMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)

	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodGet)
	r.HandleFunc("/analyze/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/analyze/camera", s.handleOpenCamera).Methods(http.MethodPost)
	r.HandleFunc("/analyze/camera/stream", s.handleCameraStream).Methods(http.MethodGet)
	r.HandleFunc("/analyze/camera/capture", s.handleCapture).Methods(http.MethodPost)
	r.HandleFunc("/analyze/camera/cancel", s.handleCancelCamera).Methods(http.MethodPost)
	r.HandleFunc("/analyze/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/analyze/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)

	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegisterForm).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	dash := r.PathPrefix("/dashboard").Subrouter()
	dash.Use(guard.Require(s.sessionFor))
	dash.HandleFunc("", s.handleDashboard).Methods(http.MethodGet)
	dash.HandleFunc("/{id}/delete", s.handleConfirmDelete).Methods(http.MethodGet)
	dash.HandleFunc("/{id}/delete", s.handleDelete).Methods(http.MethodPost)
	dash.HandleFunc("/{id}/open", s.handleOpen).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	r.MethodNotAllowedHandler = r.NotFoundHandler

	// The logging chain sits outside the router so redirects for unknown
	// paths are logged too.
	return requestLogger(r)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", "http://"+addr).Msg("web client listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down web client")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) sessionFor(r *http.Request) session.Session {
	return s.sessions.Get(clientID(r))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK\n"))
}
