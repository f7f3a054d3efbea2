package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	identityCookieKey = "galchat_id"
	identityExp       = 365 * 24 * time.Hour
	defaultIdentity   = "127.0.0.1"

	subjectClaim = "sub"
	expClaim     = "exp"
)

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Identity returns the opaque caller identity stored by the identity
// middleware.
func Identity(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(string)
	return id, ok && id != ""
}

// remoteHost keys a caller by network address. With proxy headers trusted
// RemoteAddr already carries the forwarded address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return defaultIdentity
	}
	return host
}

func (s *GalChatApp) identityFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(identityCookieKey)
	if err != nil {
		return "", fmt.Errorf("get cookie: %w", err)
	}

	token, err := s.verifyToken(cookie.Value)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	id, ok := claims[subjectClaim].(string)
	if !ok || id == "" {
		return "", errors.New("invalid subject claim")
	}

	return id, nil
}

func (s *GalChatApp) createIdentityToken(id string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: id,
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *GalChatApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return token, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     identityCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
