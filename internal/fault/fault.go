// Package fault defines the error taxonomy shared by every stage of the
// binary acquisition pipeline.
//
// Every failure that aborts a pipeline carries a Kind so callers can branch
// on what went wrong without matching error strings:
//
//	if fault.Is(err, fault.HashMismatch) {
//	    // the cached archive is corrupt
//	}
package fault

import (
	"errors"
	"fmt"
)

// Kind discriminates pipeline failures.
type Kind int

const (
	// Unknown is returned by KindOf for errors outside the taxonomy.
	Unknown Kind = iota
	// UnsupportedPlatform means the host OS/arch has no upstream build.
	UnsupportedPlatform
	// Download covers DNS, timeout, non-2xx and local I/O while fetching.
	Download
	// HashNotFound means the manifest has no line for the artifact.
	HashNotFound
	// HashMismatch means the artifact digest differs from the manifest.
	HashMismatch
	// Signature covers untrusted keys and signatures that fail to verify.
	Signature
	// Extraction covers archive decoding, path traversal and DMG mount failures.
	Extraction
	// Config means the configuration file or a catalog entry is invalid.
	Config
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case UnsupportedPlatform:
		return "unsupported-platform"
	case Download:
		return "download"
	case HashNotFound:
		return "hash-not-found"
	case HashMismatch:
		return "hash-mismatch"
	case Signature:
		return "signature"
	case Extraction:
		return "extraction"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "download", "verify signature"
	Subject string // file, URL or platform the operation was applied to
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Subject)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind Kind, op, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
