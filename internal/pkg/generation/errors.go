package generation

import "errors"

var (
	// ErrPayloadMissing means the input payload expired or was already
	// consumed; retrying cannot restore it.
	ErrPayloadMissing = errors.New("input payload missing")
	// ErrGenerationFailed means zero variations were produced after all
	// model attempts.
	ErrGenerationFailed = errors.New("no image variations produced")
)

// permanentError marks a step failure that must not be retried at the job
// level: business rejections and states that retrying cannot repair.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true for it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
