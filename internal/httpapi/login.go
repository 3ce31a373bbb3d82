package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/opsboard/flowmirror/internal/logger"
	"github.com/opsboard/flowmirror/internal/store"
)

// errEmailDomain rejects logins from outside the corporate email domain.
var errEmailDomain = errors.New("email domain not allowed")

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	s.states.Set(state, struct{}{}, cache.DefaultExpiration)
	authURL, err := s.identity.AuthURL(state)
	if err != nil {
		s.redirectWithError(w, r, "oauth_config_error")
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		s.redirectWithError(w, r, errParam)
		return
	}
	code := query.Get("code")
	if code == "" {
		s.redirectWithError(w, r, "missing_code")
		return
	}
	if state := query.Get("state"); state != "" {
		if _, ok := s.states.Get(state); !ok {
			s.redirectWithError(w, r, "invalid_state")
			return
		}
		s.states.Delete(state)
	}

	identity, err := s.identity.Exchange(r.Context(), code)
	if err != nil {
		logger.Warn("oauth exchange failed", zap.Error(err))
		s.redirectWithError(w, r, "authentication_failed")
		return
	}
	token, _, err := s.establishSession(r.Context(), identity)
	if errors.Is(err, errEmailDomain) {
		s.redirectWithError(w, r, "unauthorized_domain")
		return
	}
	if err != nil {
		logger.Error("login failed", zap.Error(err))
		s.redirectWithError(w, r, "authentication_failed")
		return
	}
	s.setSessionCookie(w, token)
	http.Redirect(w, r, s.cfg.PrimaryFrontend+"/auth/callback?success=true", http.StatusTemporaryRedirect)
}

// handleCallbackToken serves frontends that ran the consent flow themselves
// and hold a provider ID token.
func (s *Server) handleCallbackToken(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusBadRequest, "bad_request", "missing access token")
		return
	}
	idToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	identity, err := s.identity.VerifyIDToken(r.Context(), idToken)
	if err != nil {
		logger.Warn("id token verification failed", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return
	}
	token, profile, err := s.establishSession(r.Context(), identity)
	if errors.Is(err, errEmailDomain) {
		writeError(w, http.StatusForbidden, "forbidden", "Email domain is not allowed")
		return
	}
	if err != nil {
		logger.Error("login failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "authentication failed")
		return
	}
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    profile.ID,
		"email": profile.Email,
		"role":  profile.Role,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// establishSession upserts the profile for an authenticated identity and
// signs a session token. The very first profile ever created becomes
// superadmin; everyone after that starts as a regular user. Identities
// outside the allowed email domain are rejected before any row is touched.
func (s *Server) establishSession(ctx context.Context, identity Identity) (string, store.Profile, error) {
	if !s.domainAllowed(identity.Email) {
		return "", store.Profile{}, errEmailDomain
	}
	profileID := ProfileIDForSubject(identity.Subject)
	profile, err := s.store.GetProfile(ctx, profileID)
	switch {
	case err == nil:
		if profile.Email != identity.Email {
			if err := s.store.SetProfileEmail(ctx, profileID, identity.Email); err != nil {
				return "", store.Profile{}, err
			}
			profile.Email = identity.Email
		}
	case err == store.ErrNotFound:
		count, countErr := s.store.CountProfiles(ctx)
		if countErr != nil {
			return "", store.Profile{}, countErr
		}
		role := store.RoleUser
		if count == 0 {
			role = store.RoleSuperadmin
		}
		profile = store.Profile{
			ID:       profileID,
			Email:    identity.Email,
			Role:     role,
			PassHash: uuid.NewString(),
		}
		if err := s.store.CreateProfile(ctx, &profile); err != nil {
			return "", store.Profile{}, err
		}
	default:
		return "", store.Profile{}, err
	}

	claims := sessionClaims{UserID: profile.ID, Email: profile.Email, Role: profile.Role}
	if s.cfg.SessionTTL > 0 {
		claims.Exp = s.now().Add(s.cfg.SessionTTL).Unix()
	}
	token, err := signSession(claims, s.cfg.JWTSecret)
	if err != nil {
		return "", store.Profile{}, err
	}

	s.appendActionLog(ctx, profile.ID, "Logged in via Google OAuth")
	return token, profile, nil
}

func (s *Server) appendActionLog(ctx context.Context, userID, action string) {
	err := s.store.AppendActionLog(ctx, store.ActionLog{
		ID:        uuid.NewString(),
		UserID:    userID,
		Action:    action,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		logger.Warn("action log append failed", zap.Error(err))
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, s.cfg.PrimaryFrontend+"/auth/callback?error="+url.QueryEscape(message), http.StatusTemporaryRedirect)
}
