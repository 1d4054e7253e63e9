package workspace

import (
	"errors"
	"fmt"
	"io/fs"
)

// Categories are stable identifiers surfaced to the model by the file tools.
const (
	ErrorInvalidPath      = "invalid_path"
	ErrorUntrustedPath    = "untrusted_path"
	ErrorPathNotFound     = "path_not_found"
	ErrorPermissionDenied = "permission_denied"
	ErrorIO               = "io_error"
	ErrorAmbiguousEdit    = "ambiguous_edit"
	ErrorEditNotFound     = "edit_not_found"
)

// Error is a categorized path failure. The underlying os error stays
// reachable through errors.Is.
type Error struct {
	Category string
	Detail   string
	cause    error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Detail == "":
		return e.Category
	default:
		return e.Category + ": " + e.Detail
	}
}

func (e *Error) Unwrap() error {
	return e.cause
}

func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// CategoryFromError maps err onto a category, falling back to io_error.
func CategoryFromError(err error) string {
	var categorized *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &categorized):
		return categorized.Category
	case errors.Is(err, fs.ErrNotExist):
		return ErrorPathNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrorPermissionDenied
	default:
		return ErrorIO
	}
}

// FromOS categorizes an error returned by the os package. op names the
// failed step ("read", "stat") for io errors.
func FromOS(err error, op string) error {
	if err == nil {
		return nil
	}

	out := &Error{Category: CategoryFromError(err), cause: err}
	switch out.Category {
	case ErrorPathNotFound:
		out.Detail = "path does not exist"
	case ErrorPermissionDenied:
		out.Detail = "operation not permitted"
	default:
		reason := err
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			reason = pathErr.Err
		}
		out.Detail = fmt.Sprintf("%s: %v", op, reason)
	}

	return out
}
