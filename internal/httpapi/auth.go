package httpapi

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionCookieName = "token"

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

type sessionClaims struct {
	UserID string
	Email  string
	Role   string
	Exp    int64
}

func signSession(claims sessionClaims, jwtSecret string) (string, error) {
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"id":    claims.UserID,
		"email": claims.Email,
		"role":  claims.Role,
		"exp":   claims.Exp,
	})
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, []byte(jwtSecret))
	_, _ = mac.Write([]byte(signingInput))
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func parseSession(token, jwtSecret string, now time.Time) (sessionClaims, *authError) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token format"}
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token header"}
	}
	if header.Alg != "HS256" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "unsupported token algorithm"}
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token signature"}
	}

	mac := hmac.New(sha256.New, []byte(jwtSecret))
	_, _ = mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "token signature mismatch"}
	}

	var payload map[string]any
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid token payload"}
	}
	userID, ok := payload["id"].(string)
	if !ok || userID == "" {
		return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "missing id claim"}
	}
	email, _ := payload["email"].(string)
	role, _ := payload["role"].(string)

	// exp is optional: sessions issued without expiry stay valid until
	// logout clears the cookie.
	if rawExp, present := payload["exp"]; present && rawExp != nil {
		exp, err := parseExp(rawExp)
		if err != nil {
			return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "invalid exp claim"}
		}
		if exp > 0 && now.Unix() >= exp {
			return sessionClaims{}, &authError{status: 401, code: "unauthorized", message: "token expired"}
		}
	}

	return sessionClaims{UserID: userID, Email: email, Role: role}, nil
}

func parseExp(v any) (int64, error) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), nil
	case int64:
		return typed, nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, errors.New("unsupported exp type")
	}
}

// ProfileIDForSubject maps an identity-provider subject to the fixed-width
// profile id. A subject whose first 32 characters (right-padded with '0')
// form a valid UUID hex string is taken verbatim; anything else is
// MD5-folded into a UUID. The mapping is identity for every stored profile:
// changing it silently detaches users from their rows.
func ProfileIDForSubject(subject string) string {
	padded := subject
	if len(padded) > 32 {
		padded = padded[:32]
	}
	for len(padded) < 32 {
		padded += "0"
	}
	if id, err := uuid.Parse(padded); err == nil {
		return id.String()
	}
	sum := md5.Sum([]byte(subject))
	return uuid.UUID(sum).String()
}
