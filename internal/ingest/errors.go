package ingest

import "errors"

// isRejection reports whether err is an expected refusal rather than a failure.
func isRejection(err error) bool {
	return errors.Is(err, ErrNotAuthorized) || errors.Is(err, ErrTooBig) || errors.Is(err, ErrUnsupported)
}
