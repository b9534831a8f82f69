package server

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/capture"
)

// Server handles HTTP requests for captures and persisted documents
type Server struct {
	manager   *capture.Manager
	db        albaran.DB
	storage   albaran.Storage
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(manager *capture.Manager, db albaran.DB, storage albaran.Storage, basicAuth BasicAuth) *Server {
	return NewServerWithMux(manager, db, storage, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(manager *capture.Manager, db albaran.DB, storage albaran.Storage, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		manager:   manager,
		db:        db,
		storage:   storage,
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
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="AC21 Custody"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// Capture pipeline (most specific paths first)
	s.mux.HandleFunc("GET /api/captures/{id}/pages/{page}/crop", s.requireAuth(s.handleCropPage))
	s.mux.HandleFunc("POST /api/captures/{id}/pages/{page}/rotate", s.requireAuth(s.handleRotatePage))
	s.mux.HandleFunc("POST /api/captures/{id}/submit", s.requireAuth(s.handleSubmit))
	s.mux.HandleFunc("POST /api/captures/{id}/confirm", s.requireAuth(s.handleConfirm))
	s.mux.HandleFunc("POST /api/captures/{id}/decision", s.requireAuth(s.handleDecision))
	s.mux.HandleFunc("POST /api/captures/{id}/persist", s.requireAuth(s.handlePersist))
	s.mux.HandleFunc("POST /api/captures/{id}/retry", s.requireAuth(s.handleRetry))
	s.mux.HandleFunc("GET /api/captures/{id}", s.requireAuth(s.handleGetCapture))
	s.mux.HandleFunc("POST /api/captures", s.requireAuth(s.handleBeginCapture))

	// Persisted documents
	s.mux.HandleFunc("GET /api/albaranes/{id}/pages/{page}", s.requireAuth(s.handleGetDocumentPage))
	s.mux.HandleFunc("GET /api/albaranes/{id}", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("DELETE /api/albaranes/{id}", s.requireAuth(s.handleDeleteDocument))
	s.mux.HandleFunc("GET /api/albaranes", s.requireAuth(s.handleListDocuments))

	// Product type catalog
	s.mux.HandleFunc("GET /api/product-types", s.requireAuth(s.handleListProductTypes))
	s.mux.HandleFunc("PUT /api/product-types", s.requireAuth(s.handlePutProductTypes))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /", s.requireAuth(s.handleIndex))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
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
