package download

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrFetchFailed matches every *FetchError with errors.Is.
	ErrFetchFailed = errors.New("download: fetch failed")

	// ErrCoverTooLarge is returned when cover art exceeds the configured cap.
	ErrCoverTooLarge = errors.New("download: cover exceeds size limit")
)

// FetchError describes a failed transfer. StatusCode is the HTTP status when
// the server answered, otherwise 500.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func newStatusError(rawURL string, status int) *FetchError {
	return &FetchError{
		URL:        rawURL,
		StatusCode: status,
		Err:        fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}

func newTransferError(rawURL string, err error) *FetchError {
	return &FetchError{URL: rawURL, StatusCode: http.StatusInternalServerError, Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("download %s failed (%d): %v", e.URL, e.StatusCode, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// StatusCode extracts the status carried by a *FetchError, or 0.
func StatusCode(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}
