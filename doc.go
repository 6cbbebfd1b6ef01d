// Package passwordless coordinates a passwordless, challenge-response
// authentication flow: short-lived single-use challenges, WebAuthn ceremony
// verification behind a pluggable gateway, and signed time-limited session
// tokens delivered as cookies.
//
// Challenge lifecycle:
//   - ChallengeManager issues one nonce per username, bound to the request
//     origin and stored with a TTL in a KeyValueStore. Challenges are
//     consumed (read) by the registration and login flows and deleted by the
//     Coordinator once the ceremony settles, success or failure.
//
// Session tokens:
//   - TokenService signs HS256 JWTs carrying {username, exp}. Tokens are
//     stateless; there is no server-side revocation list. Sign-out and
//     account deletion only clear the client cookie, so a token retained
//     elsewhere stays cryptographically valid until its expiry.
//
// Storage:
//   - All cross-request state lives behind the KeyValueStore contract
//     (get, put-with-ttl, delete). The store offers no transactions or
//     conditional writes; two ceremony completions for the same username can
//     both read a challenge before either deletes it. That narrow window is
//     inherent to the contract and documented rather than papered over. See
//     the kvstore subpackage for bun/sqlite and in-memory implementations.
package passwordless
