// Package callback issues and verifies the signed tokens embedded in gateway callback URLs.
// A token names the payment transaction it was issued for, so a callback can only ever
// settle that transaction.
package callback

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Path is the route the gateway posts results to.
	Path = "/v1/payments/mpesa/callback"

	// QueryParam carries the token on the callback URL.
	QueryParam = "token"

	audience = "mpesa-callback"
)

// ErrInvalidToken is returned for missing, expired, or forged tokens.
var ErrInvalidToken = errors.New("invalid callback token")

// Claims identify the transaction and order a callback is allowed to settle.
type Claims struct {
	jwt.RegisteredClaims
}

// TransactionID returns the transaction the token was issued for.
func (c *Claims) TransactionID() string { return c.ID }

// OrderNumber returns the order the token was issued for.
func (c *Claims) OrderNumber() string { return c.Subject }

// Signer mints and checks callback tokens with an HMAC secret.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// NewSigner creates a new Signer. baseURL is the public origin of this service.
func NewSigner(secret string, ttl time.Duration, baseURL string) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// Token signs a token bound to one transaction.
func (s *Signer) Token(transactionID, orderNumber string) (string, error) {
	now := s.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        transactionID,
		Subject:   orderNumber,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign callback token: %w", err)
	}
	return signed, nil
}

// CallbackURL returns the URL handed to the gateway for one transaction.
func (s *Signer) CallbackURL(transactionID, orderNumber string) (string, error) {
	token, err := s.Token(transactionID, orderNumber)
	if err != nil {
		return "", err
	}
	return s.baseURL + Path + "?" + QueryParam + "=" + url.QueryEscape(token), nil
}

// Verify parses and validates a token.
func (s *Signer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", ErrInvalidToken)
	}
	return &claims, nil
}
