package passwordless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// WebauthnVerifier implements CeremonyVerifier over go-webauthn. Each
// verification builds a relying party bound to the challenge's expected
// origin, so origin matching follows the challenge record rather than a
// process-wide origin list.
type WebauthnVerifier struct {
	rpDisplayName string
	logger        Logger
}

var _ CeremonyVerifier = (*WebauthnVerifier)(nil)

func NewWebauthnVerifier(cfg Config) *WebauthnVerifier {
	return &WebauthnVerifier{
		rpDisplayName: cfg.GetRPDisplayName(),
		logger:        defLogger{},
	}
}

func (v *WebauthnVerifier) WithLogger(logger Logger) *WebauthnVerifier {
	v.logger = logger
	return v
}

// VerifyRegistration validates a credential-creation response against the
// expected challenge and origin, returning the verified credential in its
// opaque stored form.
func (v *WebauthnVerifier) VerifyRegistration(ctx context.Context, username string, response []byte, expected *ChallengeRecord) (*VerifiedCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "registration verification cancelled")
	}

	relyingParty, err := v.relyingParty(expected.Origin)
	if err != nil {
		return nil, err
	}

	user, err := newCeremonyUser(username, nil)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "parse registration response").
			WithCode(errors.CodeForbidden)
	}

	credential, err := relyingParty.CreateCredential(user, v.sessionData(user, expected), parsed)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryAuth, "validate registration response").
			WithCode(errors.CodeForbidden)
	}

	raw, err := json.Marshal(credential)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "encode verified credential")
	}

	v.logger.Debug("Registration ceremony verified for %s origin %s", username, expected.Origin)

	return &VerifiedCredential{
		ID:         encodeCredentialID(credential.ID),
		Credential: raw,
	}, nil
}

// VerifyAuthentication validates an assertion response against the stored
// credential and the expected challenge. The returned error is the only
// failure signal; nil means the ceremony verified.
func (v *WebauthnVerifier) VerifyAuthentication(ctx context.Context, username string, response []byte, credential *CredentialRecord, expected *ChallengeRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "authentication verification cancelled")
	}

	relyingParty, err := v.relyingParty(expected.Origin)
	if err != nil {
		return err
	}

	stored := webauthn.Credential{}
	if err := json.Unmarshal(credential.Credential, &stored); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "decode stored credential")
	}

	user, err := newCeremonyUser(username, []webauthn.Credential{stored})
	if err != nil {
		return err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return errors.Wrap(err, errors.CategoryAuth, "parse authentication response").
			WithCode(errors.CodeForbidden)
	}

	if _, err := relyingParty.ValidateLogin(user, v.sessionData(user, expected), parsed); err != nil {
		return errors.Wrap(err, errors.CategoryAuth, "validate authentication response").
			WithCode(errors.CodeForbidden)
	}

	v.logger.Debug("Authentication ceremony verified for %s origin %s", username, expected.Origin)

	return nil
}

// relyingParty builds a webauthn instance whose only accepted origin is the
// one captured when the challenge was issued.
func (v *WebauthnVerifier) relyingParty(origin string) (*webauthn.WebAuthn, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return nil, errors.New("invalid expected origin", errors.CategoryInternal).
			WithMetadata(map[string]any{"origin": origin})
	}

	relyingParty, err := webauthn.New(&webauthn.Config{
		RPDisplayName: v.rpDisplayName,
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{origin},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "configure relying party")
	}

	return relyingParty, nil
}

// sessionData reconstructs the webauthn session from the challenge record.
// The challenge string is re-encoded the way clients present it in
// clientDataJSON. Expiry is left zero: the store TTL already bounds the
// challenge lifetime.
func (v *WebauthnVerifier) sessionData(user *ceremonyUser, expected *ChallengeRecord) webauthn.SessionData {
	verification := protocol.VerificationPreferred
	if expected.UserVerified {
		verification = protocol.VerificationRequired
	}

	return webauthn.SessionData{
		Challenge:        base64.RawURLEncoding.EncodeToString([]byte(expected.Challenge)),
		UserID:           user.WebAuthnID(),
		Expires:          time.Time{},
		UserVerification: verification,
	}
}

// ceremonyUser adapts a username to the webauthn.User contract. The user
// handle is a deterministic UUID derived from the username so registration
// and login ceremonies agree on it without storing a separate mapping.
type ceremonyUser struct {
	username    string
	handle      []byte
	credentials []webauthn.Credential
}

func newCeremonyUser(username string, credentials []webauthn.Credential) (*ceremonyUser, error) {
	handle, err := hashid.NewUUID(username)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "derive user handle")
	}
	return &ceremonyUser{
		username:    username,
		handle:      handle[:],
		credentials: credentials,
	}, nil
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return u.handle
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
