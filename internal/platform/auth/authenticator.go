package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/tienda-flor/storefront-api/internal/platform/httpx"
	"github.com/tienda-flor/storefront-api/internal/platform/requestctx"
)

var (
	// ErrTokenExpired signals that the shopper token has expired.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid signals that the shopper token failed verification.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

type identityContextKey struct{}

// Identity captures the shopper principal extracted from a bearer token. A
// guest checkout carries no token; handlers fall back to the anonymous
// session identifier instead.
type Identity struct {
	ShopperID string
	Email     string
	ExpiresAt time.Time
}

// Authenticator verifies shopper bearer tokens issued by the identity
// collaborator. Token issuance itself lives outside this service.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator constructs an Authenticator from the shared signing secret.
func NewAuthenticator(secret string, issuer string) (*Authenticator, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	return &Authenticator{
		secret: []byte(trimmed),
		issuer: strings.TrimSpace(issuer),
	}, nil
}

// Verify parses and validates a bearer token, returning the shopper identity.
func (a *Authenticator) Verify(_ context.Context, rawToken string) (*Identity, error) {
	if a == nil {
		return nil, ErrTokenInvalid
	}
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrTokenInvalid
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(rawToken, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	if a.issuer != "" && !strings.EqualFold(claims.Issuer, a.issuer) {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{ShopperID: claims.Subject}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// RequireShopper rejects requests without a valid bearer token.
func (a *Authenticator) RequireShopper() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.identityFromRequest(r)
			if err != nil {
				status := http.StatusUnauthorized
				code := "unauthenticated"
				if errors.Is(err, ErrTokenExpired) {
					code = "token_expired"
				}
				httpx.WriteError(r.Context(), w, httpx.NewError(code, "authentication required", status))
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithShopper(r.Context(), identity)))
		})
	}
}

// OptionalShopper attaches the identity when a valid token is present but
// lets anonymous requests through, which guest checkout relies on.
func (a *Authenticator) OptionalShopper() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if identity, err := a.identityFromRequest(r); err == nil && identity != nil {
				r = r.WithContext(contextWithShopper(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) identityFromRequest(r *http.Request) (*Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, ErrTokenInvalid
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, ErrTokenInvalid
	}
	return a.Verify(r.Context(), parts[1])
}

func contextWithShopper(ctx context.Context, identity *Identity) context.Context {
	ctx = WithIdentity(ctx, identity)
	ctx = requestctx.WithShopperID(ctx, identity.ShopperID)
	return requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("shopper_id", identity.ShopperID)))
}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the shopper identity when present.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
