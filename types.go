package passwordless

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// KeyValueStore is the persistence contract every cross-request record goes
// through: plain get/put/delete by string key, with an optional TTL on put.
// No transactions, no conditional writes, no listing. Implementations report
// a missing or expired key as ErrKeyNotFound.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// TokenService issues and validates the signed session tokens carried by the
// client between requests.
type TokenService interface {
	Issue(username string) (string, error)
	Validate(token string) (*SessionClaims, error)
}

// CeremonyVerifier validates registration and authentication ceremonies
// against an expected challenge. The only failure signal is the returned
// error; callers must never inspect a returned value for truthiness.
type CeremonyVerifier interface {
	VerifyRegistration(ctx context.Context, username string, response []byte, expected *ChallengeRecord) (*VerifiedCredential, error)
	VerifyAuthentication(ctx context.Context, username string, response []byte, credential *CredentialRecord, expected *ChallengeRecord) error
}

// VerifiedCredential is the verifier-produced material persisted as a
// CredentialRecord after a successful registration ceremony.
type VerifiedCredential struct {
	// ID is the base64url-encoded credential id, returned to clients as the
	// allow-list hint on login challenges.
	ID string
	// Credential is the opaque JSON form of the verified credential.
	Credential []byte
}

// Config holds passwordless options
type Config interface {
	GetSigningKey() string
	GetTokenExpiration() int
	GetIssuer() string
	GetAudience() []string
	GetCookieName() string
	GetChallengeTTL() time.Duration
	GetStoreMinTTL() time.Duration
	GetOriginScheme() string
	GetRPDisplayName() string
	GetOperationTimeout() time.Duration
}

const (
	// DefaultTokenExpiration is the session token validity window, in hours.
	DefaultTokenExpiration = 12
	// DefaultChallengeTTL is the intended challenge lifetime. Stores may
	// enforce a higher floor; see DefaultStoreMinTTL.
	DefaultChallengeTTL = 15 * time.Second
	// DefaultStoreMinTTL is the minimum expiry the backing store accepts.
	// The original deployment target (Cloudflare KV) refuses TTLs under 60s,
	// so the effective challenge lifetime is max(ChallengeTTL, StoreMinTTL).
	DefaultStoreMinTTL = 60 * time.Second
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "session_token"
	// DefaultOriginScheme is the only scheme accepted when constructing the
	// expected ceremony origin from the request host.
	DefaultOriginScheme = "https://"
	// DefaultOperationTimeout bounds each call to the store, the verifier,
	// and the signer.
	DefaultOperationTimeout = 10 * time.Second
)

// SimpleConfig is a literal Config implementation for tests, examples, and
// apps without a config container. Zero values fall back to the defaults.
type SimpleConfig struct {
	SigningKey       string
	TokenExpiration  int
	Issuer           string
	Audience         []string
	CookieName       string
	ChallengeTTL     time.Duration
	StoreMinTTL      time.Duration
	OriginScheme     string
	RPDisplayName    string
	OperationTimeout time.Duration
}

var _ Config = SimpleConfig{}

func (c SimpleConfig) GetSigningKey() string { return c.SigningKey }

func (c SimpleConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return DefaultTokenExpiration
	}
	return c.TokenExpiration
}

func (c SimpleConfig) GetIssuer() string { return c.Issuer }

func (c SimpleConfig) GetAudience() []string { return c.Audience }

func (c SimpleConfig) GetCookieName() string {
	if c.CookieName == "" {
		return DefaultCookieName
	}
	return c.CookieName
}

func (c SimpleConfig) GetChallengeTTL() time.Duration {
	if c.ChallengeTTL <= 0 {
		return DefaultChallengeTTL
	}
	return c.ChallengeTTL
}

func (c SimpleConfig) GetStoreMinTTL() time.Duration {
	if c.StoreMinTTL <= 0 {
		return DefaultStoreMinTTL
	}
	return c.StoreMinTTL
}

func (c SimpleConfig) GetOriginScheme() string {
	if c.OriginScheme == "" {
		return DefaultOriginScheme
	}
	return c.OriginScheme
}

func (c SimpleConfig) GetRPDisplayName() string {
	if c.RPDisplayName == "" {
		return "go-passwordless"
	}
	return c.RPDisplayName
}

func (c SimpleConfig) GetOperationTimeout() time.Duration {
	if c.OperationTimeout <= 0 {
		return DefaultOperationTimeout
	}
	return c.OperationTimeout
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] PASSWORDLESS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] PASSWORDLESS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] PASSWORDLESS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] PASSWORDLESS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
