package tokenx

import "errors"

// Decode failures are deliberately coarse. Callers get enough to act on
// (re-authenticate, refresh, reject) and attackers probing the verifier get
// nothing about which layer tripped.
var (
	// ErrMalformed covers structural damage and signature failures alike:
	// truncated tokens, tokens signed by someone else, tokens whose payload
	// was altered after signing.
	ErrMalformed = errors.New("tokenx: malformed or tampered token")

	// ErrExpired means the token was once valid but its window has passed,
	// beyond the configured clock-skew leeway.
	ErrExpired = errors.New("tokenx: token expired")

	// ErrNotYetValid means nbf is in the future beyond leeway. Only seen
	// under serious clock drift; treated as outside the validity window.
	ErrNotYetValid = errors.New("tokenx: token not yet valid")

	// ErrPurposeMismatch means a structurally valid token of one purpose was
	// presented where another purpose was required, e.g. a refresh token on
	// an access check.
	ErrPurposeMismatch = errors.New("tokenx: token purpose mismatch")

	// ErrAudienceMismatch means the token belongs to a different client
	// surface than the verifier accepts.
	ErrAudienceMismatch = errors.New("tokenx: audience mismatch")

	// ErrIssuerMismatch means the token names a different issuer.
	ErrIssuerMismatch = errors.New("tokenx: issuer mismatch")

	// ErrUnknownKID means the token's key id maps to no configured secret,
	// current or previous.
	ErrUnknownKID = errors.New("tokenx: unknown kid")

	// ErrWeakSecret is a configuration error: a signing secret failed the
	// strength policy. Raised at construction, never at runtime.
	ErrWeakSecret = errors.New("tokenx: weak signing secret")
)
