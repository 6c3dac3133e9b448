package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken reports a publisher token that failed verification.
var ErrInvalidToken = errors.New("auth: invalid publisher token")

const tokenIssuer = "pm-embed"

// PublisherClaims binds a token to one publisher id.
type PublisherClaims struct {
	Pub string `json:"pub"`
	jwt.RegisteredClaims
}

// PublisherTokens issues and verifies HS256 publisher tokens.
type PublisherTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewPublisherTokens(secret string, ttl time.Duration) *PublisherTokens {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &PublisherTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (p *PublisherTokens) Enabled() bool {
	return p != nil && len(p.secret) > 0
}

func (p *PublisherTokens) Issue(pub string) (string, time.Time, error) {
	if !p.Enabled() {
		return "", time.Time{}, ErrNotConfigured
	}
	pub = strings.TrimSpace(pub)
	if pub == "" {
		return "", time.Time{}, fmt.Errorf("pub required")
	}

	now := p.now().UTC()
	expiresAt := now.Add(p.ttl)
	claims := PublisherClaims{
		Pub: pub,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   pub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign publisher token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry and that the token belongs to pub.
func (p *PublisherTokens) Verify(token, pub string) error {
	if !p.Enabled() {
		return ErrNotConfigured
	}
	parsed, err := jwt.ParseWithClaims(token, &PublisherClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*PublisherClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidToken
	}
	if claims.Pub != pub {
		return fmt.Errorf("%w: publisher mismatch", ErrInvalidToken)
	}
	return nil
}
