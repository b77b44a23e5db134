package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/sub-tracker/internal/catalog"
	"github.com/zombor/sub-tracker/internal/scanning"
	"github.com/zombor/sub-tracker/internal/session"
	"github.com/zombor/sub-tracker/internal/subscription"
)

// Server handles HTTP requests for statement detection and subscriptions
type Server struct {
	service   *subscription.Service
	matcher   *catalog.Matcher
	scanner   scanning.Scanner
	sessions  *session.Manager
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *subscription.Service, matcher *catalog.Matcher, scanner scanning.Scanner, sessions *session.Manager, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, matcher, scanner, sessions, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *subscription.Service, matcher *catalog.Matcher, scanner scanning.Scanner, sessions *session.Manager, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		matcher:   matcher,
		scanner:   scanner,
		sessions:  sessions,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Sub Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/detect-subscriptions", s.requireAuth(s.handleDetectSubscriptions))

	s.mux.HandleFunc("POST /api/subscriptions/undo", s.requireAuth(s.handleUndoDelete))
	s.mux.HandleFunc("PUT /api/subscriptions/{id}", s.requireAuth(s.handleUpdateSubscription))
	s.mux.HandleFunc("DELETE /api/subscriptions/{id}", s.requireAuth(s.handleDeleteSubscription))
	s.mux.HandleFunc("GET /api/subscriptions", s.requireAuth(s.handleListSubscriptions))
	s.mux.HandleFunc("POST /api/subscriptions", s.requireAuth(s.handleCreateSubscription))

	s.mux.HandleFunc("GET /api/catalog", s.requireAuth(s.handleListCatalog))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
