// Package auth issues and verifies the bearer tokens that identify principals.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const signingMethod = "HS256"

// Claims is the token payload. Field names match tokens minted by the
// account service the web client signs in with.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticator resolves a bearer credential to a principal.
type Authenticator struct {
	secret     []byte
	principals engine.PrincipalStore
	now        func() time.Time
}

// NewAuthenticator creates an Authenticator verifying HS256 tokens signed with secret.
func NewAuthenticator(secret []byte, principals engine.PrincipalStore) *Authenticator {
	return &Authenticator{secret: secret, principals: principals, now: time.Now}
}

// Authenticate verifies credential and returns the principal it names.
// Every failure is reported as engine.ErrUnauthenticated; the cause is logged.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (schema.Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return schema.Principal{}, engine.ErrUnauthenticated
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(credential, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		slog.Debug("token rejected", "reason", describeJWTError(err))
		return schema.Principal{}, engine.Wrap(engine.KindUnauthenticated, engine.ErrUnauthenticated.Message, err)
	}

	var p schema.Principal
	switch {
	case claims.Email != "":
		p, err = a.principals.PrincipalByEmail(ctx, schema.NormalizeEmail(claims.Email))
	case claims.UserID != "":
		p, err = a.principals.PrincipalByID(ctx, claims.UserID)
	default:
		return schema.Principal{}, engine.ErrUnauthenticated
	}
	if err != nil {
		slog.Debug("token principal unresolved", "email", claims.Email, "user_id", claims.UserID, "error", err)
		return schema.Principal{}, engine.Wrap(engine.KindUnauthenticated, engine.ErrUnauthenticated.Message, err)
	}
	return p, nil
}

// describeJWTError names the jwt failure for logs.
func describeJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing claim"
	default:
		return err.Error()
	}
}

// Issuer mints tokens for principals.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer whose tokens expire after ttl.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue signs a token for p.
func (i *Issuer) Issue(p schema.Principal) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: p.ID,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Credential extracts the bearer token from the Authorization header, falling
// back to the access_token query parameter browsers use for websockets.
func Credential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
