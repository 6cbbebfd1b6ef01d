package passwordless

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// SessionClaims is the decoded payload of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// GetUsername returns the username claim, falling back to the subject.
func (c *SessionClaims) GetUsername() string {
	if c.Username != "" {
		return c.Username
	}
	return c.RegisteredClaims.Subject
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	signingKey      []byte
	tokenExpiration int
	issuer          string
	audience        jwt.ClaimStrings
	logger          Logger
	clock           func() time.Time
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config) *TokenServiceImpl {
	return &TokenServiceImpl{
		signingKey:      []byte(cfg.GetSigningKey()),
		tokenExpiration: cfg.GetTokenExpiration(),
		issuer:          cfg.GetIssuer(),
		audience:        jwt.ClaimStrings(cfg.GetAudience()),
		logger:          defLogger{},
		clock:           time.Now,
	}
}

func (ts *TokenServiceImpl) WithLogger(logger Logger) *TokenServiceImpl {
	ts.logger = logger
	return ts
}

// WithClock overrides the time source, mainly for expiry tests.
func (ts *TokenServiceImpl) WithClock(clock func() time.Time) *TokenServiceImpl {
	ts.clock = clock
	return ts
}

// Issue signs a session token for username with the configured validity
// window. A signing failure is surfaced as ErrSigningFailed, never swallowed.
func (ts *TokenServiceImpl) Issue(username string) (string, error) {
	now := ts.clock()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   username,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ts.tokenExpiration) * time.Hour)),
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("TokenService Issue failed to sign claims for %s: %s", username, err)
		return "", errors.Wrap(err, errors.CategoryInternal, "session token signing failed").
			WithTextCode(TextCodeSigningFailed).
			WithCode(errors.CodeInternal)
	}

	return signed, nil
}

// Validate parses and validates a token string. Every failure mode (missing,
// tampered, wrong key, malformed, unexpected method, expired) is normalized
// to ErrInvalidSession; a trusted token yields the decoded claims.
func (ts *TokenServiceImpl) Validate(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidSession
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.clock),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService Validate unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			ts.logger.Debug("TokenService Validate token expired")
		} else {
			ts.logger.Error("TOKEN VERIFICATION failed: %s", err)
		}
		return nil, ErrInvalidSession
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	ts.logger.Error("TokenService validate could not decode or validate claims")
	return nil, ErrInvalidSession
}
