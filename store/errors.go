package store

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by a Registry or DocumentStore matches
// exactly one of them with errors.Is.
var (
	// ErrNotFound reports an absent namespace or snapshot.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports a namespace name collision.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument reports empty or malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState reports an operation on a namespace whose durable
	// state is not initialized.
	ErrInvalidState = errors.New("invalid state")

	// ErrIO reports a durable storage failure. Mutations that fail with
	// ErrIO leave the stored state unchanged.
	ErrIO = errors.New("i/o error")
)

var kinds = []error{ErrNotFound, ErrAlreadyExists, ErrInvalidArgument, ErrInvalidState, ErrIO}

// Error describes a failed store operation.
//
// It matches its Kind with errors.Is and unwraps to the underlying cause.
type Error struct {
	Op        string // operation, e.g. "rollback"
	Namespace string // namespace involved, if any
	Snapshot  string // snapshot ID involved, if any
	Kind      error  // one of the package sentinels
	Err       error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("kvault: ")
	b.WriteString(e.Op)
	if e.Namespace != "" {
		fmt.Fprintf(&b, " namespace %q", e.Namespace)
	}
	if e.Snapshot != "" {
		fmt.Fprintf(&b, " snapshot %q", e.Snapshot)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the sentinel matched by err, or nil if err is nil or not
// classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// wrap turns a backend failure into an *Error. Unclassified failures are
// storage failures.
func wrap(op, namespace, snapshot string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	kind := KindOf(err)
	if kind == nil {
		kind = ErrIO
	}
	return &Error{Op: op, Namespace: namespace, Snapshot: snapshot, Kind: kind, Err: err}
}

func invalidArgument(op, namespace, snapshot, msg string) error {
	return &Error{Op: op, Namespace: namespace, Snapshot: snapshot, Kind: ErrInvalidArgument, Err: fmt.Errorf("%w: %s", ErrInvalidArgument, msg)}
}

// classified builds a backend error of the given kind.
func classified(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// ioError classifies err as ErrIO unless it already carries a kind.
func ioError(err error) error {
	if err == nil || KindOf(err) != nil {
		return err
	}
	return fmt.Errorf("%w: %w", ErrIO, err)
}
