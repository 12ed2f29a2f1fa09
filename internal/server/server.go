package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gowebio/webio/internal/config"
	"github.com/gowebio/webio/internal/session"
)

// SessionHeader carries the session id on the HTTP polling transport.
const SessionHeader = "webio-session-id"

// Server exposes the io endpoint: probe, HTTP polling and WebSocket
// delivery all live on the same path so a client can switch transports
// without reconfiguration.
type Server struct {
	cfg        *config.Config
	registry   *session.Registry
	apps       map[string]session.Task
	defaultApp string
}

// New wires the registry and the registered task apps. defaultApp is
// started when the client names no app.
func New(cfg *config.Config, registry *session.Registry, apps map[string]session.Task, defaultApp string) *Server {
	return &Server{
		cfg:        cfg,
		registry:   registry,
		apps:       apps,
		defaultApp: defaultApp,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.cfg.Server.Debug {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/io", s.handleIO)
	r.Post("/io", s.handlePush)

	return r
}

func (s *Server) lookupTask(r *http.Request) (session.Task, bool) {
	name := r.URL.Query().Get("app")
	if name == "" {
		name = s.defaultApp
	}
	task, ok := s.apps[name]
	return task, ok
}

func debugFlag(r *http.Request) bool {
	v := r.URL.Query().Get("debug")
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

// cors mirrors the headers browsers need to reach the io endpoint from
// another origin, including exposing the session-id header.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin, r.Host) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST")
			h.Set("Access-Control-Allow-Headers", "content-type, "+SessionHeader)
			h.Set("Access-Control-Expose-Headers", SessionHeader)
			h.Set("Access-Control-Max-Age", "86400")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if parsed.Host != "" && strings.EqualFold(parsed.Host, host) {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
