package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"postboard/errs"
)

const (
	// DefaultTokenTTL is how long a token stays valid when no ttl is given.
	DefaultTokenTTL = 30 * time.Minute
	// MaxPasswordBytes is bcrypt's input limit. Longer passwords are truncated, not rejected.
	MaxPasswordBytes = 72
)

// Config holds the secrets and knobs of the Credentials service.
// It's built once at startup and handed in, nothing here reads the environment.
type Config struct {
	SecretKey  string
	TokenTTL   time.Duration
	BcryptCost int
}

// Credentials hashes and verifies passwords, and issues and validates bearer tokens.
// Tokens are HS256 JWTs carrying the user's email as subject and an absolute expiry.
type Credentials struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewCredentials returns an instance of Credentials. Zero values in cfg fall back to defaults.
func NewCredentials(cfg Config) *Credentials {
	c := &Credentials{
		secret: []byte(cfg.SecretKey),
		ttl:    cfg.TokenTTL,
		cost:   cfg.BcryptCost,
		now:    time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTokenTTL
	}
	if c.cost == 0 {
		c.cost = bcrypt.DefaultCost
	}
	return c
}

// Hash bcrypts the password with a fresh salt.
func (c *Credentials) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(truncate(password), c.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash. A malformed hash is simply a mismatch.
func (c *Credentials) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), truncate(password)) == nil
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > MaxPasswordBytes {
		b = b[:MaxPasswordBytes]
	}
	return b
}

// Token is a signed bearer token and the instant it stops being valid.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Claims is what a token asserts: the user's email as subject, and the user's ID.
// Emails can change hands, the ID ties the token to one account for good.
type Claims struct {
	jwt.RegisteredClaims
	UserID int `json:"uid"`
}

// IssueToken signs a token for subject, the user with the given ID.
// A ttl of zero or less uses the configured default.
func (c *Credentials) IssueToken(subject string, userID int, ttl time.Duration) (*Token, error) {
	if subject == "" {
		return nil, errors.New("issuing token: subject required")
	}
	if userID <= 0 {
		return nil, errors.New("issuing token: user ID required")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt.Truncate(time.Second),
	}, nil
}

// ValidateToken checks signature, algorithm and expiry and returns the token's claims.
// Any failure at all, a missing subject or user ID included, yields errs.NotAuthenticated.
func (c *Credentials) ValidateToken(token string) (*Claims, error) {
	if token == "" {
		return nil, errs.NotAuthenticated
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	var claims Claims
	parsed, err := parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" || claims.UserID <= 0 {
		return nil, errs.NotAuthenticated
	}
	return &claims, nil
}
