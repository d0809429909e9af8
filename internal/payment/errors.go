package payment

import "errors"

// Sentinel errors for typed rejection handling. Each maps to one check in
// Verifier.Verify; handlers surface the specific error to the caller rather
// than a generic failure.
var (
	ErrMalformedPayment         = errors.New("malformed payment payload")
	ErrUnsupportedScheme        = errors.New("unsupported payment scheme")
	ErrRecipientMismatch        = errors.New("payment recipient mismatch")
	ErrAssetMismatch            = errors.New("payment asset mismatch")
	ErrInsufficientAmount       = errors.New("payment amount below tier price")
	ErrAuthorizationExpired     = errors.New("authorization expired")
	ErrAuthorizationNotYetValid = errors.New("authorization not yet valid")
	ErrReplayedAuthorization    = errors.New("authorization nonce already used")
	ErrInvalidSignature         = errors.New("invalid authorization signature")
)

// IsRejection reports whether err is any verifier rejection, as opposed to
// an infrastructure failure (e.g. the replay store being unreachable).
func IsRejection(err error) bool {
	for _, sentinel := range []error{
		ErrMalformedPayment,
		ErrUnsupportedScheme,
		ErrRecipientMismatch,
		ErrAssetMismatch,
		ErrInsufficientAmount,
		ErrAuthorizationExpired,
		ErrAuthorizationNotYetValid,
		ErrReplayedAuthorization,
		ErrInvalidSignature,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
