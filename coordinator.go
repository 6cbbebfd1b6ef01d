package passwordless

import (
	"context"
	"time"
)

// Coordinator orchestrates the four flows (registration, login, session
// check, account deletion) over the challenge manager, the ceremony
// verifier, the credential store, and the token service. All collaborators
// are injected; the coordinator holds no ambient state.
type Coordinator struct {
	store      *CredentialStore
	challenges *ChallengeManager
	verifier   CeremonyVerifier
	tokens     TokenService
	logger     Logger
	timeout    time.Duration
}

func NewCoordinator(store *CredentialStore, challenges *ChallengeManager, verifier CeremonyVerifier, tokens TokenService, cfg Config) *Coordinator {
	return &Coordinator{
		store:      store,
		challenges: challenges,
		verifier:   verifier,
		tokens:     tokens,
		logger:     defLogger{},
		timeout:    cfg.GetOperationTimeout(),
	}
}

func (c *Coordinator) WithLogger(logger Logger) *Coordinator {
	c.logger = logger
	return c
}

// bound caps every external call in a flow with the operation timeout so a
// hung store, verifier, or signer fails the request instead of hanging it.
func (c *Coordinator) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// UserExists reports whether username already owns a credential record.
func (c *Coordinator) UserExists(ctx context.Context, username string) (bool, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.store.HasCredential(ctx, username)
}

// IssueChallenge starts a ceremony for username bound to origin. See
// ChallengeManager.Issue for the includeCredentialID semantics.
func (c *Coordinator) IssueChallenge(ctx context.Context, username, origin string, includeCredentialID bool) (*ChallengeIssue, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	return c.challenges.Issue(ctx, username, origin, includeCredentialID)
}

// Register completes a registration ceremony: consume the challenge, verify
// the response, persist the credential record, settle the challenge, issue a
// session token.
//
// A verifier rejection rolls back any credential record for the username (a
// failed registration must not leave a half-committed identity) and deletes
// the challenge, closing the replay window. A signing failure after a
// successful verification does NOT roll the credential back: identity
// creation is not undone by a downstream signer outage.
func (c *Coordinator) Register(ctx context.Context, username string, response []byte) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	expected, err := c.challenges.Consume(ctx, username)
	if err != nil {
		return "", err
	}

	credential, err := c.verifier.VerifyRegistration(ctx, username, response, expected)
	if err != nil {
		c.logger.Error("REGISTRATION VERIFICATION failed for %s: %s", username, err)
		if err := c.store.DeleteCredential(ctx, username); err != nil {
			c.logger.Error("Error rolling back credential for %s: %s", username, err)
		}
		if err := c.store.DeleteChallenge(ctx, username); err != nil {
			c.logger.Warn("Error cleaning up challenge for %s: %s", username, err)
		}
		return "", ErrVerificationFailed
	}

	record := &CredentialRecord{
		Username:     username,
		CredentialID: credential.ID,
		Credential:   credential.Credential,
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.store.PutCredential(ctx, record); err != nil {
		c.logger.Error("Error persisting credential for %s: %s", username, err)
		return "", err
	}

	if err := c.store.DeleteChallenge(ctx, username); err != nil {
		// The record is already committed; the TTL reaps the leftover
		// challenge.
		c.logger.Warn("Error cleaning up challenge for %s: %s", username, err)
	}

	token, err := c.tokens.Issue(username)
	if err != nil {
		c.logger.Error("TOKEN SIGNING failed for %s: %s", username, err)
		return "", err
	}

	return token, nil
}

// Login completes an authentication ceremony: consume the challenge, load
// the stored credential, verify the assertion, settle the challenge, issue a
// session token. The challenge is deleted on both outcomes.
//
// Possession of a valid, origin-matched challenge is trusted as user
// presence; the user-verified expectation is forced before verification.
func (c *Coordinator) Login(ctx context.Context, username string, response []byte) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	expected, err := c.challenges.Consume(ctx, username)
	if err != nil {
		return "", err
	}
	expected.UserVerified = true

	// A login challenge should never be issuable without a record, but fail
	// closed if one is missing anyway.
	credential, err := c.store.GetCredential(ctx, username)
	if err != nil {
		c.logger.Error("Error loading credential for %s: %s", username, err)
		return "", err
	}

	if err := c.verifier.VerifyAuthentication(ctx, username, response, credential, expected); err != nil {
		c.logger.Error("AUTHENTICATION VERIFICATION failed for %s: %s", username, err)
		if err := c.store.DeleteChallenge(ctx, username); err != nil {
			c.logger.Warn("Error cleaning up challenge for %s: %s", username, err)
		}
		return "", ErrVerificationFailed
	}

	if err := c.store.DeleteChallenge(ctx, username); err != nil {
		c.logger.Warn("Error cleaning up challenge for %s: %s", username, err)
	}

	token, err := c.tokens.Issue(username)
	if err != nil {
		c.logger.Error("TOKEN SIGNING failed for %s: %s", username, err)
		return "", err
	}

	return token, nil
}

// Session validates a token and re-checks that the credential record behind
// it still exists: a deleted identity reads as an invalid session even while
// the token itself has not expired. Every endpoint granting access to
// protected content goes through this check.
func (c *Coordinator) Session(ctx context.Context, token string) (*SessionClaims, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	claims, err := c.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	exists, err := c.store.HasCredential(ctx, claims.GetUsername())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

// Username resolves the username carried by a valid session. It applies the
// same record re-check as Session so a deleted identity cannot keep
// resolving lookups on a leftover token.
func (c *Coordinator) Username(ctx context.Context, token string) (string, error) {
	claims, err := c.Session(ctx, token)
	if err != nil {
		return "", err
	}
	return claims.GetUsername(), nil
}

// DeleteAccount removes the credential record behind a valid session and
// returns the affected username. The session token itself stays
// cryptographically valid until expiry; the record re-check in Session is
// what locks the deleted identity out.
func (c *Coordinator) DeleteAccount(ctx context.Context, token string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	claims, err := c.tokens.Validate(token)
	if err != nil {
		return "", err
	}

	username := claims.GetUsername()
	if err := c.store.DeleteCredential(ctx, username); err != nil {
		c.logger.Error("Error deleting credential for %s: %s", username, err)
		return "", err
	}

	c.logger.Info("Account deleted: %s", username)

	return username, nil
}
