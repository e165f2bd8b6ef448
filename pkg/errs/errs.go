// Package errs defines the typed error taxonomy shared by every layer of
// corestore, from the disk manager up through the Engine façade. There is
// no exception-style control flow anywhere in the core: every fallible
// operation returns a Go error, and callers that care about the failure
// category type-assert to *Error and switch on Kind.
package errs

import "fmt"

// Kind is a closed set of error categories, matching spec §7.
type Kind int

const (
	// Ok is never carried by an *Error; it exists so Kind has a defined
	// zero-adjacent "success" name for callers that log a Kind field.
	Ok Kind = iota
	InvalidArgument
	NotFound
	AlreadyExists
	Corruption
	IO
	BufferPoolExhausted
	Unimplemented
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "Ok"
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case Corruption:
		return "Corruption"
	case IO:
		return "IO"
	case BufferPoolExhausted:
		return "BufferPoolExhausted"
	case Unimplemented:
		return "Unimplemented"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type threaded through every subsystem. Op
// names the failing operation (e.g. "put", "fetch_page"); Key carries the
// record/vector key when relevant and is empty otherwise.
type Error struct {
	Kind Kind
	Op   string
	Key  []byte
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if len(e.Key) > 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (key=%q): %v", e.Op, e.Kind, e.Key, e.Err)
		}
		return fmt.Sprintf("%s: %s (key=%q)", e.Op, e.Kind, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// WithKey attaches a key to an *Error and returns it for chaining.
func (e *Error) WithKey(key []byte) *Error {
	e.Key = append([]byte(nil), key...)
	return e
}

// KindOf extracts the Kind from err, defaulting to IO for an error that
// did not originate as an *Error (e.g. a raw os.PathError).
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return IO
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
