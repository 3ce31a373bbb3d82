// Package httpapi serves the admin, data, auth, and realtime endpoints in
// front of the mirror store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/logger"
	"github.com/opsboard/flowmirror/internal/mirror"
	"github.com/opsboard/flowmirror/internal/realtime"
	"github.com/opsboard/flowmirror/internal/store"
)

// oauthStateTTL bounds how long a login attempt may sit on the consent
// screen before its state nonce expires.
const oauthStateTTL = 10 * time.Minute

type ServerConfig struct {
	JWTSecret string
	// AllowedEmailDomain restricts admin-created accounts to one corporate
	// domain. Empty disables the check.
	AllowedEmailDomain string
	AllowedOrigins     []string
	PrimaryFrontend    string
	// SessionTTL of zero issues cookies without an expiry claim.
	SessionTTL time.Duration
}

// SourceLister is the read-only view of the sync engine's source registry,
// used by the /instances data endpoint.
type SourceLister interface {
	ListActiveSources(ctx context.Context) []mirror.Source
}

type Server struct {
	store    store.Store
	hub      *realtime.Hub
	identity IdentityProvider
	sources  SourceLister
	cfg      ServerConfig
	handler  http.Handler
	states   *cache.Cache
	now      func() time.Time
}

func NewServer(st store.Store, hub *realtime.Hub, identity IdentityProvider, sources SourceLister, cfg ServerConfig) *Server {
	s := &Server{
		store:    st,
		hub:      hub,
		identity: identity,
		sources:  sources,
		cfg:      cfg,
		states:   cache.New(oauthStateTTL, oauthStateTTL/2),
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", s.handleCallback).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", s.handleCallbackToken).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	r.HandleFunc("/ws/n8n", s.handleWebsocket)

	r.HandleFunc("/dashboard", s.requireUser(s.handleDashboard)).Methods(http.MethodGet)
	r.HandleFunc("/me", s.requireUser(s.handleMe)).Methods(http.MethodGet)
	r.HandleFunc("/workflows", s.requireUser(s.handleWorkflows)).Methods(http.MethodGet)
	r.HandleFunc("/executions", s.requireUser(s.handleExecutions)).Methods(http.MethodGet)
	r.HandleFunc("/instances", s.requireUser(s.handleSources)).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users", s.requireSuperadmin(s.handleCreateUser)).Methods(http.MethodPost)
	admin.HandleFunc("/users", s.requireSuperadmin(s.handleListUsers)).Methods(http.MethodGet)
	admin.HandleFunc("/users/role", s.requireSuperadmin(s.handleSetRole)).Methods(http.MethodPost)
	admin.HandleFunc("/action-logs", s.requireSuperadmin(s.handleActionLogs)).Methods(http.MethodGet)
	admin.HandleFunc("/workflow-access", s.requireSuperadmin(s.handleListAccess)).Methods(http.MethodGet)
	admin.HandleFunc("/workflow-access/grant", s.requireSuperadmin(s.handleGrantAccess)).Methods(http.MethodPost)
	admin.HandleFunc("/workflow-access/grant-bulk", s.requireSuperadmin(s.handleGrantAccessBulk)).Methods(http.MethodPost)
	admin.HandleFunc("/workflow-access/revoke", s.requireSuperadmin(s.handleRevokeAccess)).Methods(http.MethodPost)
	admin.HandleFunc("/workflow-access/revoke-bulk", s.requireSuperadmin(s.handleRevokeAccessBulk)).Methods(http.MethodPost)
	admin.HandleFunc("/instances", s.requireSuperadmin(s.handleAdminListInstances)).Methods(http.MethodGet)
	admin.HandleFunc("/instances", s.requireSuperadmin(s.handleCreateInstance)).Methods(http.MethodPost)
	admin.HandleFunc("/instances/{id}", s.requireSuperadmin(s.handleUpdateInstance)).Methods(http.MethodPut)
	admin.HandleFunc("/instances/{id}", s.requireSuperadmin(s.handleDeleteInstance)).Methods(http.MethodDelete)

	// CORS wraps the router rather than running as a mux middleware: an
	// OPTIONS preflight matches a route's path but not its method set, and
	// mux answers 405 without running route middleware at all.
	s.handler = s.corsMiddleware(r)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims sessionClaims)

// requireUser authenticates the session cookie without touching the store.
func (s *Server) requireUser(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, authErr := s.sessionFromRequest(r)
		if authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
		next(w, r, claims)
	}
}

// requireSuperadmin additionally checks the stored role, so a role change
// takes effect without waiting for the session to be reissued.
func (s *Server) requireSuperadmin(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, authErr := s.sessionFromRequest(r)
		if authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
		profile, err := s.store.GetProfile(r.Context(), claims.UserID)
		if err != nil || profile.Role != store.RoleSuperadmin {
			writeError(w, http.StatusForbidden, "forbidden", "superadmin required")
			return
		}
		claims.Role = profile.Role
		next(w, r, claims)
	}
}

func (s *Server) sessionFromRequest(r *http.Request) (sessionClaims, *authError) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "not authenticated"}
	}
	return parseSession(cookie.Value, s.cfg.JWTSecret, s.now())
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if _, ok := allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusBadRequest, "duplicate", "already exists")
	default:
		logger.Error("store operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func trimmedField(raw map[string]any, key string) string {
	value, _ := raw[key].(string)
	return strings.TrimSpace(value)
}

// domainAllowed enforces the corporate email-domain restriction. An empty
// configured domain disables the check.
func (s *Server) domainAllowed(email string) bool {
	domain := s.cfg.AllowedEmailDomain
	return domain == "" || strings.HasSuffix(email, "@"+domain)
}
