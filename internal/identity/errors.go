package identity

import "errors"

// Kind classifies identity failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCredential is a malformed, missing or rejected credential.
	// It is never retried.
	KindCredential
	// KindTransient is a network or provider availability failure.
	KindTransient
	// KindProvider is any other provider rejection.
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindTransient:
		return "transient"
	case KindProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Error is the error type returned by this package.
type Error struct {
	Kind        Kind
	Op          string
	Description string
	Err         error
}

// Kind sentinels match any *Error of that kind. The described sentinels
// below match only errors with the same description.
var (
	ErrCredential = &Error{Kind: KindCredential}
	ErrTransient  = &Error{Kind: KindTransient}
	ErrProvider   = &Error{Kind: KindProvider}

	ErrNoCredentials   = &Error{Kind: KindCredential, Description: "authorization has no credentials"}
	ErrNoLoginRequest  = &Error{Kind: KindCredential, Description: "a login callback was received but no login request was sent"}
	ErrNoIdentityToken = &Error{Kind: KindCredential, Description: "unable to fetch identity token"}
	ErrNonceMismatch   = &Error{Kind: KindCredential, Description: "identity token nonce does not match the login request"}
	ErrCredentialInUse = &Error{Kind: KindCredential, Description: "credential is already linked to another account"}
	ErrNoCurrentUser   = &Error{Kind: KindProvider, Description: "no signed-in account"}
	ErrNotAnonymous    = &Error{Kind: KindProvider, Description: "current account is not anonymous"}
)

func (e *Error) Error() string {
	msg := "identity"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	desc := e.Description
	if desc == "" {
		desc = e.Kind.String() + " error"
	}
	msg += ": " + desc
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind, and by description when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Description == "" || t.Description == e.Description
}

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// withOp copies a described sentinel and attaches op and cause.
func withOp(sentinel *Error, op string, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Op: op, Description: sentinel.Description, Err: cause}
}
