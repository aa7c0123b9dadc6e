package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = time.Hour

// ErrEmptySecret is returned when the token service is built without a signing secret.
var ErrEmptySecret = errors.New("jwt secret cannot be empty")

// Claims is the identity embedded in a token.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type TokensOption func(*Tokens)

// WithTokenClock replaces time.Now when stamping and checking expiry.
func WithTokenClock(now func() time.Time) TokensOption {
	return func(t *Tokens) { t.now = now }
}

// NewTokens creates a token service signing with secret.
func NewTokens(secret, issuer string, opts ...TokensOption) (*Tokens, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	t := &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for the user that expires TokenTTL from now.
func (t *Tokens) Issue(userID, email string) (string, error) {
	now := t.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify checks the signature, algorithm and expiry of token and returns its claims.
func (t *Tokens) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, oops.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_INVALID").Wrap(err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, oops.Code("AUTH_TOKEN_INVALID").Errorf("invalid token claims")
	}
	return claims, nil
}
