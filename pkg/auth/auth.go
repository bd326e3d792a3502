// SPDX-FileCopyrightText: Copyright 2026 ClinMetrics, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth validates bearer tokens on the HTTP transport.
//
// Validation is OIDC discovery based: the issuer's JWKS verifies the token
// signature and the audience claim is matched against configuration. The
// stdio transport carries no tokens and bypasses this package entirely.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/clinmetrics/omop-mcp/pkg/logger"
	"github.com/clinmetrics/omop-mcp/pkg/omop"
)

// ClaimsContextKey is the context key under which verified claims are
// stored for downstream handlers.
type ClaimsContextKey struct{}

// TokenValidator verifies bearer tokens against one OIDC issuer.
type TokenValidator struct {
	verifier *oidc.IDTokenVerifier
	issuer   string
}

// NewTokenValidator discovers the issuer's verification keys. Discovery
// performs network I/O and fails fast when the issuer is unreachable.
func NewTokenValidator(ctx context.Context, issuer, audience string) (*TokenValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer %s: %w", issuer, err)
	}
	return &TokenValidator{
		verifier: provider.Verifier(&oidc.Config{ClientID: audience}),
		issuer:   issuer,
	}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func (v *TokenValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearer(r)
		if err == nil {
			var claims jwt.MapClaims
			claims, err = v.verify(r.Context(), token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey{}, claims)))
				return
			}
		}
		logger.Warnw("Rejected request", "path", r.URL.Path, "error", err.Error())
		w.Header().Set("WWW-Authenticate", `Bearer realm="omop-mcp"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
}

func (v *TokenValidator) verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", omop.ErrUnauthenticated, err)
	}
	var claims jwt.MapClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims: %v", omop.ErrUnauthenticated, err)
	}
	return claims, nil
}

func extractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing Authorization header", omop.ErrUnauthenticated)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", fmt.Errorf("%w: Authorization header is not a bearer token", omop.ErrUnauthenticated)
	}
	return token, nil
}

// AnonymousMiddleware stamps a synthetic local principal. Used when no
// OAuth issuer is configured.
func AnonymousMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := jwt.MapClaims{"sub": "local", "name": "Local User"}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey{}, claims)))
	})
}

// GetClaimsFromContext retrieves the verified claims, if any.
func GetClaimsFromContext(ctx context.Context) (jwt.MapClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(ClaimsContextKey{}).(jwt.MapClaims)
	return claims, ok
}

// SubjectFromContext returns the sub claim, or empty when unauthenticated.
func SubjectFromContext(ctx context.Context) string {
	claims, ok := GetClaimsFromContext(ctx)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
