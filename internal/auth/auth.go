// Package auth verifies HS256 bearer tokens carried in connection_init
// payloads and Authorization headers, and exposes the verified claims to
// resolvers through the context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/getmockd/gqlws/pkg/graphql"
	"github.com/getmockd/gqlws/pkg/httputil"
	"github.com/getmockd/gqlws/pkg/subscription"
)

var (
	ErrMissingToken = errors.New("missing auth token")
	ErrInvalidToken = errors.New("invalid auth token")
)

// Verifier checks tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. A non-empty issuer must match the iss
// claim.
func NewVerifier(secret []byte, issuer string) *Verifier {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: secret, parser: jwt.NewParser(opts...)}
}

// Verify validates token and returns its claims.
func (v *Verifier) Verify(token string) (jwt.MapClaims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ContextBuilder verifies the token in the connection_init payload for
// every operation. A failure fails only that operation.
func (v *Verifier) ContextBuilder() subscription.ContextBuilder {
	return func(ctx context.Context, payload json.RawMessage, _ *graphql.GraphQLRequest) (context.Context, error) {
		claims, err := v.Verify(TokenFromPayload(payload))
		if err != nil {
			return nil, err
		}
		return WithClaims(ctx, claims), nil
	}
}

// Middleware rejects HTTP requests without a valid Authorization header
// with a 401 GraphQL error response.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.Verify(bearer(r.Header.Get("Authorization")))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gqlws"`)
			httputil.WriteJSON(w, http.StatusUnauthorized, graphql.ErrorResponse(err.Error()))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// TokenFromPayload reads authToken, token or an Authorization bearer value
// from a connection_init payload.
func TokenFromPayload(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var init struct {
		AuthToken     string `json:"authToken"`
		Token         string `json:"token"`
		Authorization string `json:"Authorization"`
	}
	if err := json.Unmarshal(payload, &init); err != nil {
		return ""
	}
	switch {
	case init.AuthToken != "":
		return init.AuthToken
	case init.Token != "":
		return init.Token
	}
	return bearer(init.Authorization)
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

type claimsKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// Claims returns the verified claims on ctx, if any.
func Claims(ctx context.Context) (jwt.MapClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return claims, ok
}

// User returns the name claim of a verified token, falling back to sub.
func User(ctx context.Context) string {
	claims, ok := Claims(ctx)
	if !ok {
		return ""
	}
	if name, ok := claims["name"].(string); ok && name != "" {
		return name
	}
	sub, _ := claims.GetSubject()
	return sub
}
