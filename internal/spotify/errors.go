package spotify

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	// ErrUpstream wraps every non-2xx response.
	ErrUpstream = errors.New("spotify upstream error")

	// ErrUnauthorized is returned for 401 responses.
	ErrUnauthorized = errors.New("spotify rejected credentials")

	// ErrRateLimited is returned when 429 responses persist after retries.
	ErrRateLimited = errors.New("spotify rate limit exceeded")

	// ErrMalformed is returned when a response cannot be decoded.
	ErrMalformed = errors.New("malformed spotify response")
)

// UpstreamError describes a non-2xx response.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("spotify returned %d: %s", e.Status, e.Body)
}

// Is matches ErrUpstream for every status, plus the status-specific sentinels.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

func retryable(err error) bool {
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		return false
	}
	return ue.Status == http.StatusTooManyRequests || ue.Status >= 500
}
