package passwordless

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChallengeIssue is the result of issuing a challenge. CredentialID is set
// only when the caller asked for the existing credential hint (login flow).
type ChallengeIssue struct {
	Challenge    string
	CredentialID string
}

// ChallengeManager owns the issue/consume lifecycle of single-use
// challenges. Deletion is deliberately left to the caller: registration and
// login settle challenges at different points of their flows.
type ChallengeManager struct {
	store  *CredentialStore
	ttl    time.Duration
	minTTL time.Duration
	logger Logger
}

func NewChallengeManager(store *CredentialStore, cfg Config) *ChallengeManager {
	return &ChallengeManager{
		store:  store,
		ttl:    cfg.GetChallengeTTL(),
		minTTL: cfg.GetStoreMinTTL(),
		logger: defLogger{},
	}
}

func (m *ChallengeManager) WithLogger(logger Logger) *ChallengeManager {
	m.logger = logger
	return m
}

// EffectiveTTL is the challenge lifetime actually written to the store: the
// configured TTL raised to the store's minimum expiry. The intended window
// and the floor are kept as separate policy values so the deviation is
// visible instead of silently baked in.
func (m *ChallengeManager) EffectiveTTL() time.Duration {
	if m.ttl < m.minTTL {
		return m.minTTL
	}
	return m.ttl
}

// Issue generates a fresh nonce for username bound to origin and stores it,
// replacing any outstanding challenge. With includeCredentialID the existing
// credential record's id is returned so the client can target the right
// authenticator at login; without it, an existing record is a registration
// conflict.
func (m *ChallengeManager) Issue(ctx context.Context, username, origin string, includeCredentialID bool) (*ChallengeIssue, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}

	exists, err := m.store.HasCredential(ctx, username)
	if err != nil {
		return nil, err
	}

	if exists && !includeCredentialID {
		return nil, ErrAlreadyRegistered
	}

	issue := &ChallengeIssue{Challenge: uuid.NewString()}

	record := &ChallengeRecord{
		Challenge: issue.Challenge,
		Origin:    origin,
	}

	if err := m.store.PutChallenge(ctx, username, record, m.EffectiveTTL()); err != nil {
		return nil, err
	}

	if includeCredentialID {
		credential, err := m.store.GetCredential(ctx, username)
		if err != nil {
			return nil, err
		}
		issue.CredentialID = credential.CredentialID
	}

	m.logger.Debug("Issued challenge for %s origin %s ttl %s", username, origin, m.EffectiveTTL())

	return issue, nil
}

// Consume returns the outstanding challenge for username, or
// ErrChallengeNotFound. It does NOT delete the record; the caller settles it
// according to its own rollback needs.
func (m *ChallengeManager) Consume(ctx context.Context, username string) (*ChallengeRecord, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	return m.store.GetChallenge(ctx, username)
}
