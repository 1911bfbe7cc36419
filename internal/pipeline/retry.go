package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgallion1/refgest/internal/extract"
)

// HTTPStatusError is a non-2xx download response.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
}

// IsRetryable checks if a download error is worth retrying: transport
// timeouts, rate limiting and server errors.
func IsRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests ||
			statusErr.Status == http.StatusRequestTimeout ||
			statusErr.Status >= 500
	}
	return extract.IsRetryable(err)
}

const (
	MaxDownloadAttempts = 3
	downloadRetryDelay  = time.Second
)
