package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Identity is what the provider knows about a logged-in user.
type Identity struct {
	Subject string
	Email   string
}

// IdentityProvider abstracts the external OAuth service. The sync engine
// never touches this; only the auth endpoints do.
type IdentityProvider interface {
	// AuthURL builds the consent-screen redirect for the given state nonce.
	AuthURL(state string) (string, error)
	// Exchange trades an authorization code for the user's identity.
	Exchange(ctx context.Context, code string) (Identity, error)
	// VerifyIDToken validates a provider-issued ID token directly, used by
	// frontends that run the consent flow themselves.
	VerifyIDToken(ctx context.Context, idToken string) (Identity, error)
}

const (
	googleAuthEndpoint      = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenEndpoint     = "https://oauth2.googleapis.com/token"
	googleUserinfoEndpoint  = "https://openidconnect.googleapis.com/v1/userinfo"
	googleTokeninfoEndpoint = "https://oauth2.googleapis.com/tokeninfo"
)

type GoogleProvider struct {
	clientID     string
	clientSecret string
	redirectURI  string
	httpClient   *http.Client
}

func NewGoogleProvider(clientID, clientSecret, redirectURI string, httpClient *http.Client) *GoogleProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleProvider{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		redirectURI:  strings.TrimSpace(redirectURI),
		httpClient:   httpClient,
	}
}

func (g *GoogleProvider) AuthURL(state string) (string, error) {
	if g.clientID == "" || g.clientSecret == "" {
		return "", fmt.Errorf("oauth client is not configured")
	}
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", g.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	q.Set("access_type", "online")
	return googleAuthEndpoint + "?" + q.Encode(), nil
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (Identity, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)
	form.Set("redirect_uri", g.redirectURI)
	form.Set("grant_type", "authorization_code")

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := g.postForm(ctx, googleTokenEndpoint, form, &token); err != nil {
		return Identity{}, fmt.Errorf("code exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return Identity{}, fmt.Errorf("code exchange returned no access token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoEndpoint, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	var userinfo struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := g.doJSON(req, &userinfo); err != nil {
		return Identity{}, fmt.Errorf("userinfo fetch failed: %w", err)
	}
	return identityFrom(userinfo.Sub, userinfo.Email)
}

func (g *GoogleProvider) VerifyIDToken(ctx context.Context, idToken string) (Identity, error) {
	q := url.Values{}
	q.Set("id_token", idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleTokeninfoEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Identity{}, err
	}
	var info struct {
		Sub      string `json:"sub"`
		Email    string `json:"email"`
		Audience string `json:"aud"`
	}
	if err := g.doJSON(req, &info); err != nil {
		return Identity{}, fmt.Errorf("token verification failed: %w", err)
	}
	if info.Audience != g.clientID {
		return Identity{}, fmt.Errorf("token audience mismatch")
	}
	return identityFrom(info.Sub, info.Email)
}

func identityFrom(subject, email string) (Identity, error) {
	if subject == "" || email == "" {
		return Identity{}, fmt.Errorf("provider response missing subject or email")
	}
	return Identity{Subject: subject, Email: strings.ToLower(strings.TrimSpace(email))}, nil
}

func (g *GoogleProvider) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return g.doJSON(req, out)
}

func (g *GoogleProvider) doJSON(req *http.Request, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http %d from %s", resp.StatusCode, req.URL.Host)
	}
	return json.Unmarshal(body, out)
}
