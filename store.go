package passwordless

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/goliatone/go-errors"
)

// challengeKeySuffix separates challenge entries from credential entries in
// the shared key namespace. Both record kinds are keyed by username.
const challengeKeySuffix = "-challenge"

// ChallengeRecord is the ephemeral state a ceremony is validated against.
type ChallengeRecord struct {
	Challenge string `json:"challenge"`
	Origin    string `json:"origin"`
	// UserVerified mirrors the ceremony's user-verification expectation. The
	// login flow forces it to true before verification: possession of a
	// valid, origin-matched challenge is trusted as proof of presence, any
	// biometric/PIN check happened on the authenticator side.
	UserVerified bool `json:"userVerified,omitempty"`
}

// CredentialRecord binds a username to one registered authenticator. An
// identity owns at most one record; a later registration overwrites it.
type CredentialRecord struct {
	Username     string          `json:"username"`
	CredentialID string          `json:"credentialId"`
	Credential   json.RawMessage `json:"credential"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// CredentialStore is the typed adapter over the KeyValueStore for the two
// record kinds the flows persist.
type CredentialStore struct {
	kv KeyValueStore
}

func NewCredentialStore(kv KeyValueStore) *CredentialStore {
	return &CredentialStore{kv: kv}
}

func challengeKey(username string) string {
	return username + challengeKeySuffix
}

// GetCredential loads the credential record for username, or
// ErrCredentialNotFound.
func (s *CredentialStore) GetCredential(ctx context.Context, username string) (*CredentialRecord, error) {
	raw, err := s.kv.Get(ctx, username)
	if err != nil {
		if stderrors.Is(err, ErrKeyNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "load credential record")
	}

	record := &CredentialRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "decode credential record")
	}

	return record, nil
}

// HasCredential reports whether a credential record exists for username.
func (s *CredentialStore) HasCredential(ctx context.Context, username string) (bool, error) {
	_, err := s.GetCredential(ctx, username)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, ErrCredentialNotFound) {
		return false, nil
	}
	return false, err
}

// PutCredential persists record under its username, overwriting any prior
// record. Credential records do not expire.
func (s *CredentialStore) PutCredential(ctx context.Context, record *CredentialRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "encode credential record")
	}
	if err := s.kv.Put(ctx, record.Username, raw, 0); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "store credential record")
	}
	return nil
}

func (s *CredentialStore) DeleteCredential(ctx context.Context, username string) error {
	if err := s.kv.Delete(ctx, username); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "delete credential record")
	}
	return nil
}

// GetChallenge loads the outstanding challenge for username, or
// ErrChallengeNotFound when none exists or it expired.
func (s *CredentialStore) GetChallenge(ctx context.Context, username string) (*ChallengeRecord, error) {
	raw, err := s.kv.Get(ctx, challengeKey(username))
	if err != nil {
		if stderrors.Is(err, ErrKeyNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "load challenge record")
	}

	record := &ChallengeRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "decode challenge record")
	}

	return record, nil
}

// PutChallenge stores record with the given ttl, replacing any outstanding
// challenge for username.
func (s *CredentialStore) PutChallenge(ctx context.Context, username string, record *ChallengeRecord, ttl time.Duration) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "encode challenge record")
	}
	if err := s.kv.Put(ctx, challengeKey(username), raw, ttl); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "store challenge record")
	}
	return nil
}

func (s *CredentialStore) DeleteChallenge(ctx context.Context, username string) error {
	if err := s.kv.Delete(ctx, challengeKey(username)); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "delete challenge record")
	}
	return nil
}
