package auth

import "errors"

// Kind classifies why a credential was rejected.
type Kind int

const (
	KindMissingCredential Kind = iota + 1
	KindMalformedToken
	KindNoExpiration
	KindExpired
	KindSignatureInvalid
	KindKeySourceUnavailable
	KindIdentityMissing
)

func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindMalformedToken:
		return "malformed_token"
	case KindNoExpiration:
		return "no_expiration"
	case KindExpired:
		return "expired"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindKeySourceUnavailable:
		return "key_source_unavailable"
	case KindIdentityMissing:
		return "identity_missing"
	default:
		return "unknown"
	}
}

// Error is returned for every rejected credential. Msg is safe to show to callers.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "auth: " + e.Msg + ": " + e.Err.Error()
	}
	return "auth: " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the rejection kind from err.
func KindOf(err error) (Kind, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return 0, false
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
