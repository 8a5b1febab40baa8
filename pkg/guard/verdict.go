package guard

import (
	"errors"

	"github.com/aussiebroadwan/sessionguard/pkg/tokenx"
)

// Reason classifies why a token failed validation. Stable machine-readable
// strings; the Verdict's Error field carries the human wording.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonMalformed           Reason = "malformed"
	ReasonExpired             Reason = "expired"
	ReasonNotYetValid         Reason = "not_yet_valid"
	ReasonIssuerMismatch      Reason = "issuer_mismatch"
	ReasonAudienceMismatch    Reason = "audience_mismatch"
	ReasonPurposeMismatch     Reason = "purpose_mismatch"
	ReasonRevoked             Reason = "revoked"
	ReasonSessionTerminated   Reason = "session_terminated"
	ReasonRegistryUnavailable Reason = "registry_unavailable"
)

// Verdict is the result of validating a token. Validation never returns a Go
// error: whatever happens, callers get a verdict they can act on.
type Verdict struct {
	// Valid reports whether the token passed every check.
	Valid bool

	// Claims carries the verified claim set. Only set when Valid.
	Claims *tokenx.ClaimSet

	// Reason classifies the failure. ReasonNone when Valid.
	Reason Reason

	// Error is a human-readable description of the failure, safe to show to
	// an operator. Empty when Valid.
	Error string

	// ShouldRefresh hints that the token is valid but close enough to expiry
	// that the client should rotate now rather than risk a dead token
	// mid-request.
	ShouldRefresh bool

	// Warnings are advisory trust findings. A verdict can be valid and still
	// carry warnings; acting on them is the caller's policy decision.
	Warnings []string

	// TrustScore is the 0-100 context score, set when scoring ran.
	TrustScore *int
}

// invalid builds a failure verdict.
func invalid(reason Reason, msg string) Verdict {
	return Verdict{Reason: reason, Error: msg}
}

// verdictForDecode folds the codec's error taxonomy into a verdict.
func verdictForDecode(err error) Verdict {
	switch {
	case errors.Is(err, tokenx.ErrExpired):
		return invalid(ReasonExpired, "token has expired")
	case errors.Is(err, tokenx.ErrNotYetValid):
		return invalid(ReasonNotYetValid, "token is not valid yet")
	case errors.Is(err, tokenx.ErrIssuerMismatch):
		return invalid(ReasonIssuerMismatch, "token was issued by an unrecognized issuer")
	case errors.Is(err, tokenx.ErrAudienceMismatch):
		return invalid(ReasonAudienceMismatch, "token belongs to a different audience")
	case errors.Is(err, tokenx.ErrPurposeMismatch):
		return invalid(ReasonPurposeMismatch, "token was minted for a different purpose")
	default:
		return invalid(ReasonMalformed, "token is malformed or its signature is invalid")
	}
}
