package passwordless_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/goliatone/go-passwordless"
	"github.com/goliatone/go-passwordless/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type coordinatorFixture struct {
	coordinator *passwordless.Coordinator
	store       *passwordless.CredentialStore
	verifier    *MockVerifier
	tokens      *passwordless.TokenServiceImpl
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
	t.Helper()

	cfg := passwordless.SimpleConfig{
		SigningKey: "test-signing-key",
	}

	store := passwordless.NewCredentialStore(kvstore.NewMemoryStore())
	challenges := passwordless.NewChallengeManager(store, cfg).WithLogger(quietLogger{})
	verifier := new(MockVerifier)
	tokens := passwordless.NewTokenService(cfg).WithLogger(quietLogger{})

	coordinator := passwordless.NewCoordinator(store, challenges, verifier, tokens, cfg).
		WithLogger(quietLogger{})

	return &coordinatorFixture{
		coordinator: coordinator,
		store:       store,
		verifier:    verifier,
		tokens:      tokens,
	}
}

func (f *coordinatorFixture) seedChallenge(t *testing.T, username, nonce string) {
	t.Helper()
	require.NoError(t, f.store.PutChallenge(context.Background(), username, &passwordless.ChallengeRecord{
		Challenge: nonce,
		Origin:    "https://auth.example.com",
	}, time.Minute))
}

func (f *coordinatorFixture) seedCredential(t *testing.T, username, credentialID string) {
	t.Helper()
	require.NoError(t, f.store.PutCredential(context.Background(), &passwordless.CredentialRecord{
		Username:     username,
		CredentialID: credentialID,
		Credential:   json.RawMessage(`{"id":"` + credentialID + `"}`),
		CreatedAt:    time.Now().UTC(),
	}))
}

func TestCoordinator_RegisterSuccess(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.seedChallenge(t, "peperone", "nonce-1")

	response := []byte(`{"username":"peperone","response":{}}`)
	f.verifier.On("VerifyRegistration", mock.Anything, "peperone", response, mock.MatchedBy(func(r *passwordless.ChallengeRecord) bool {
		return r.Challenge == "nonce-1" && r.Origin == "https://auth.example.com"
	})).Return(&passwordless.VerifiedCredential{
		ID:         "AQIDBA",
		Credential: json.RawMessage(`{"id":"AQIDBA"}`),
	}, nil)

	token, err := f.coordinator.Register(ctx, "peperone", response)
	require.NoError(t, err)

	claims, err := f.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "peperone", claims.GetUsername())

	record, err := f.store.GetCredential(ctx, "peperone")
	require.NoError(t, err)
	assert.Equal(t, "AQIDBA", record.CredentialID)

	// challenge is single use
	_, err = f.store.GetChallenge(ctx, "peperone")
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)

	f.verifier.AssertExpectations(t)
}

func TestCoordinator_RegisterWithoutChallenge(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.Register(context.Background(), "peperone", []byte(`{}`))
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)

	f.verifier.AssertNotCalled(t, "VerifyRegistration", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_RegisterVerifierRejects(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.seedChallenge(t, "peperone", "nonce-1")

	f.verifier.On("VerifyRegistration", mock.Anything, "peperone", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	_, err := f.coordinator.Register(ctx, "peperone", []byte(`{}`))
	assert.ErrorIs(t, err, passwordless.ErrVerificationFailed)

	// no half committed identity
	exists, err := f.store.HasCredential(ctx, "peperone")
	require.NoError(t, err)
	assert.False(t, exists)

	// the replay window is closed
	_, err = f.store.GetChallenge(ctx, "peperone")
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)
}

func TestCoordinator_LoginSuccess(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.seedCredential(t, "peperone", "AQIDBA")
	f.seedChallenge(t, "peperone", "nonce-2")

	response := []byte(`{"response":{}}`)
	f.verifier.On("VerifyAuthentication", mock.Anything, "peperone", response,
		mock.MatchedBy(func(c *passwordless.CredentialRecord) bool {
			return c.CredentialID == "AQIDBA"
		}),
		mock.MatchedBy(func(r *passwordless.ChallengeRecord) bool {
			return r.Challenge == "nonce-2" && r.UserVerified
		}),
	).Return(nil)

	token, err := f.coordinator.Login(ctx, "peperone", response)
	require.NoError(t, err)

	claims, err := f.tokens.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "peperone", claims.GetUsername())

	_, err = f.store.GetChallenge(ctx, "peperone")
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)

	f.verifier.AssertExpectations(t)
}

func TestCoordinator_LoginWithoutChallenge(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.seedCredential(t, "peperone", "AQIDBA")

	_, err := f.coordinator.Login(context.Background(), "peperone", []byte(`{}`))
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)
}

func TestCoordinator_LoginWithoutCredential(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.seedChallenge(t, "ghost", "nonce-3")

	_, err := f.coordinator.Login(context.Background(), "ghost", []byte(`{}`))
	assert.ErrorIs(t, err, passwordless.ErrCredentialNotFound)

	f.verifier.AssertNotCalled(t, "VerifyAuthentication", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_LoginVerifierRejects(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.seedCredential(t, "peperone", "AQIDBA")
	f.seedChallenge(t, "peperone", "nonce-4")

	f.verifier.On("VerifyAuthentication", mock.Anything, "peperone", mock.Anything, mock.Anything, mock.Anything).
		Return(assert.AnError)

	_, err := f.coordinator.Login(ctx, "peperone", []byte(`{}`))
	assert.ErrorIs(t, err, passwordless.ErrVerificationFailed)

	// failed attempts settle the challenge too
	_, err = f.store.GetChallenge(ctx, "peperone")
	assert.ErrorIs(t, err, passwordless.ErrChallengeNotFound)
}

func TestCoordinator_SessionValid(t *testing.T) {
	f := newCoordinatorFixture(t)

	f.seedCredential(t, "peperone", "AQIDBA")

	token, err := f.tokens.Issue("peperone")
	require.NoError(t, err)

	claims, err := f.coordinator.Session(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "peperone", claims.GetUsername())

	username, err := f.coordinator.Username(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "peperone", username)
}

func TestCoordinator_SessionInvalidToken(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.Session(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, passwordless.ErrInvalidSession)

	_, err = f.coordinator.Session(context.Background(), "")
	assert.ErrorIs(t, err, passwordless.ErrInvalidSession)
}

// A valid token whose identity no longer exists reads as an invalid session.
func TestCoordinator_SessionAfterDelete(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	f.seedCredential(t, "peperone", "AQIDBA")

	token, err := f.tokens.Issue("peperone")
	require.NoError(t, err)

	username, err := f.coordinator.DeleteAccount(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "peperone", username)

	_, err = f.coordinator.Session(ctx, token)
	assert.ErrorIs(t, err, passwordless.ErrInvalidSession)

	_, err = f.coordinator.Username(ctx, token)
	assert.ErrorIs(t, err, passwordless.ErrInvalidSession)
}

func TestCoordinator_DeleteAccountInvalidToken(t *testing.T) {
	f := newCoordinatorFixture(t)

	_, err := f.coordinator.DeleteAccount(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, passwordless.ErrInvalidSession)
}

func TestCoordinator_UserExists(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	exists, err := f.coordinator.UserExists(ctx, "peperone")
	require.NoError(t, err)
	assert.False(t, exists)

	f.seedCredential(t, "peperone", "AQIDBA")

	exists, err = f.coordinator.UserExists(ctx, "peperone")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCoordinator_IssueChallenge(t *testing.T) {
	f := newCoordinatorFixture(t)
	ctx := context.Background()

	issue, err := f.coordinator.IssueChallenge(ctx, "peperone", "https://auth.example.com", false)
	require.NoError(t, err)
	assert.NotEmpty(t, issue.Challenge)

	record, err := f.store.GetChallenge(ctx, "peperone")
	require.NoError(t, err)
	assert.Equal(t, issue.Challenge, record.Challenge)
}
