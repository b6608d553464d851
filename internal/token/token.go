// Package token implements the signed-token codec shared by both services.
// Tokens are compact JWTs protected by a symmetric MAC; every verification
// failure maps to a distinct error kind so the interceptor layer can report a
// precise authentication reason without echoing token contents.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed     = errors.New("token: malformed")
	ErrBadSignature  = errors.New("token: bad signature")
	ErrExpired       = errors.New("token: expired")
	ErrWrongIssuer   = errors.New("token: wrong issuer")
	ErrWrongAudience = errors.New("token: wrong audience")
	ErrMissingClaim  = errors.New("token: missing required claim")
	ErrIssuance      = errors.New("token: issuance failed")
)

// Claims is the claim set carried by every token. The subject is the
// username; uid carries the stable user id so services without a local
// directory can still resolve ownership.
type Claims struct {
	Roles  []string `json:"roles,omitempty"`
	UserID string   `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies tokens against one configured key, issuer and
// audience. It is a pure function over (key, token) and safe for concurrent
// use.
type Codec struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithAlgorithm selects the MAC algorithm (HS256, HS384 or HS512).
func WithAlgorithm(alg string) Option {
	return func(c *Codec) {
		if m := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(alg))); m != nil {
			c.method = m
		}
	}
}

// WithLeeway permits the given clock skew during verification. Zero means
// strict comparison.
func WithLeeway(d time.Duration) Option {
	return func(c *Codec) {
		if d > 0 {
			c.leeway = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The secret must already be decoded to raw key
// bytes of at least 256 bits.
func NewCodec(secret []byte, issuer, audience string, opts ...Option) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("%w: key shorter than 256 bits", ErrIssuance)
	}
	if strings.TrimSpace(issuer) == "" || strings.TrimSpace(audience) == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrIssuance)
	}
	c := &Codec{
		secret:   secret,
		method:   jwt.SigningMethodHS512,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch c.method.Alg() {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %s", ErrIssuance, c.method.Alg())
	}
	return c, nil
}

// Issue signs a token for the given subject and roles with the requested
// lifetime. All mandatory claims are populated; jti is a fresh UUID. userID
// may be empty when the subject doubles as the stable id.
func (c *Codec) Issue(subject, userID string, roles []string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrIssuance)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: non-positive ttl", ErrIssuance)
	}

	now := c.now().UTC()
	claims := Claims{
		Roles:  roles,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	return signed, nil
}

// Verify parses the token, checks the MAC, issuer, audience and expiry, and
// returns the claim set. now >= exp is already expired.
func (c *Codec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return nil, ErrMissingClaim
	}
	if !claims.ExpiresAt.Time.After(claims.IssuedAt.Time) {
		return nil, ErrMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMissingClaim
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrWrongIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrWrongAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrMalformed
	}
}
