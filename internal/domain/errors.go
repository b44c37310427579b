package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialNotFound indicates no stored credential exists for a user.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrRefreshFailed indicates the provider rejected a token refresh; the
	// user is skipped for the remainder of the batch.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrRateLimited is internal to the scheduler; it self-throttles, so this
	// should never surface to callers.
	ErrRateLimited = errors.New("rate limit window exhausted")
	// ErrUnsupportedSport is a skip signal, not a failure: the listed
	// activity's kind is outside the scored sport.
	ErrUnsupportedSport = errors.New("unsupported sport")
	// ErrRetriesExhausted is returned by the scheduler after a request has
	// failed its final retry.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// UpstreamError wraps a non-2xx response from the activity provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// IsUpstreamStatus reports whether err is an UpstreamError with the given
// HTTP status.
func IsUpstreamStatus(err error, status int) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Status == status
}
