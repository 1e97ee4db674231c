// Package auth turns bearer tokens into domain actors.
package auth

import (
	"context"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/cockroachdb/errors"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

var ErrUnauthorized = errors.New("unauthorized")

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates tokens signed either with a shared HMAC secret or by a JWKS issuer.
type Verifier struct {
	keyfunc jwt.Keyfunc
	methods []string
	close   func()
}

func NewHMACVerifier(secret string) *Verifier {
	key := []byte(secret)
	return &Verifier{
		keyfunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()},
		close:   func() {},
	}
}

// NewJWKSVerifier fetches the key set at url and refreshes it in the background until Close.
func NewJWKSVerifier(ctx context.Context, url string, logger observability.Logger) (*Verifier, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("refresh jwks")
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load jwks from %s", url)
	}
	return &Verifier{
		keyfunc: jwks.Keyfunc,
		methods: []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg(), jwt.SigningMethodEdDSA.Alg()},
		close:   jwks.EndBackground,
	}, nil
}

func (v *Verifier) Close() { v.close() }

// Verify parses token and returns the actor it names. Tokens without a subject or with an
// unknown role are refused.
func (v *Verifier) Verify(token string) (domain.Actor, error) {
	var claims Claims
	t, err := jwt.ParseWithClaims(token, &claims, v.keyfunc, jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errors.Wrapf(ErrUnauthorized, "parse token: %v", err)
	}
	if !t.Valid || claims.Subject == "" {
		return domain.Actor{}, errors.Wrap(ErrUnauthorized, "token has no subject")
	}
	role := domain.Role(claims.Role)
	switch role {
	case domain.RoleClient, domain.RoleHost, domain.RoleAgent:
	case "":
		role = domain.RoleClient
	default:
		return domain.Actor{}, errors.Wrapf(ErrUnauthorized, "unknown role %q", claims.Role)
	}
	return domain.Actor{UserID: claims.Subject, Role: role}, nil
}

// IssueToken signs an HS256 token; used by tests and local tooling.
func IssueToken(secret, subject string, role domain.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
