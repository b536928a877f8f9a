package catalog

import (
	"errors"
	"fmt"
)

// Code is the POSIX-style error taxonomy of the catalog contract. It is
// deliberately coarser than errno: callers that need the exact delegate
// error can unwrap it (see CatalogError.Unwrap).
type Code int

const (
	CodeNotFound Code = iota
	CodePermissionDenied
	CodeExists
	CodeIsDir
	CodeNotDir
	CodeNotEmpty
	CodeInvalid
	CodeLoopExceeded
	CodeCacheUnavailable
	CodeDelegateFailure
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeNotFound:
		return "not found"
	case CodePermissionDenied:
		return "permission denied"
	case CodeExists:
		return "already exists"
	case CodeIsDir:
		return "is a directory"
	case CodeNotDir:
		return "not a directory"
	case CodeNotEmpty:
		return "directory not empty"
	case CodeInvalid:
		return "invalid argument"
	case CodeLoopExceeded:
		return "symbolic links limit exceeded"
	case CodeCacheUnavailable:
		return "cache unavailable"
	case CodeDelegateFailure:
		return "delegate failure"
	default:
		return "internal error"
	}
}

// CatalogError is the error type every public CachingCatalog method
// returns on failure. It carries enough context to reconstruct a
// POSIX-style errno-equivalent at the caller's boundary without forcing
// that translation on this package.
type CatalogError struct {
	Code Code
	Op   string
	Path string
	// Msg, when set, replaces the Code's generic text in Error; used
	// where the surfaced message must carry detail beyond the code, such
	// as the hop bound of an exceeded symlink resolution.
	Msg string
	Err error
}

func (e *CatalogError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *CatalogError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrNotFound) style checks against the Code,
// independent of Op/Path/Err.
func (e *CatalogError) Is(target error) bool {
	t, ok := target.(*CatalogError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(op, path string, code Code, cause error) error {
	return &CatalogError{Code: code, Op: op, Path: path, Err: cause}
}

// newLoopErr reports a symlink resolution that ran past limit hops,
// echoing the bound in the surfaced message.
func newLoopErr(op, path string, limit int) error {
	return &CatalogError{
		Code: CodeLoopExceeded,
		Op:   op,
		Path: path,
		Msg:  fmt.Sprintf("Symbolic links limit exceeded: > %d", limit),
	}
}

// NewError builds a *CatalogError for use by Delegate implementations
// outside this package (e.g. catalogtest, or a real backing store): the
// Delegate contract requires POSIX-style failures to already carry a
// Code so wrapDelegateErr can propagate them unchanged instead of
// flattening them to CodeDelegateFailure.
func NewError(code Code, op, path string, cause error) error {
	return newErr(op, path, code, cause)
}

// Sentinels for errors.Is comparisons; only Code is inspected by Is above.
var (
	ErrNotFound         = &CatalogError{Code: CodeNotFound}
	ErrPermissionDenied = &CatalogError{Code: CodePermissionDenied}
	ErrExists           = &CatalogError{Code: CodeExists}
	ErrIsDir            = &CatalogError{Code: CodeIsDir}
	ErrNotDir           = &CatalogError{Code: CodeNotDir}
	ErrNotEmpty         = &CatalogError{Code: CodeNotEmpty}
	ErrInvalid          = &CatalogError{Code: CodeInvalid}
	ErrLoopExceeded     = &CatalogError{Code: CodeLoopExceeded}
)

// CodeOf extracts the Code from err if it is (or wraps) a *CatalogError,
// and CodeInternal otherwise.
func CodeOf(err error) Code {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
