package docstore

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// Kind classifies document store failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDecode
	KindTransient
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDecode:
		return "decode"
	case KindTransient:
		return "transient"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across the façade boundary.
// Native client errors are kept in Err and never returned bare.
type Error struct {
	Kind        Kind
	Op          string
	Collection  Collection
	ID          string
	Description string
	Err         error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrNotFound  = &Error{Kind: KindNotFound, Description: "document not found"}
	ErrDecode    = &Error{Kind: KindDecode, Description: "malformed document"}
	ErrTransient = &Error{Kind: KindTransient, Description: "document store unavailable"}
	ErrWrite     = &Error{Kind: KindWrite, Description: "document write failed"}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("docstore")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Collection != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Collection))
		if e.ID != "" {
			b.WriteString("/")
			b.WriteString(e.ID)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Description)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsNotFound reports whether err is a missing-document error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func notFound(op string, c Collection, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Collection: c, ID: id, Description: ErrNotFound.Description}
}

func decodeError(op string, c Collection, id string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Collection: c, ID: id, Description: ErrDecode.Description, Err: err}
}

// wrap converts a native client error. Connection level failures become
// KindTransient; everything else gets the fallback kind.
func wrap(op string, c Collection, id string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := fallback
	if isTransient(err) {
		kind = KindTransient
	}

	desc := ErrWrite.Description
	switch kind {
	case KindTransient:
		desc = ErrTransient.Description
	case KindDecode:
		desc = ErrDecode.Description
	case KindNotFound:
		desc = ErrNotFound.Description
	case KindUnknown:
		desc = "document store request failed"
	}

	return &Error{Kind: kind, Op: op, Collection: c, ID: id, Description: desc, Err: err}
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
