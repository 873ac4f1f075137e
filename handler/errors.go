package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/adamwoolhether/urlfetch/handler/progress"
)

// MaxErrBodySize caps the amount of response body kept in a
// StatusError.
const MaxErrBodySize = 4 << 10 // 4KB

var (
	// ErrTransfer marks network and I/O failures, unknown hosts included.
	ErrTransfer = errors.New("transfer failed")

	// ErrStatusRejected marks responses whose status code did not
	// indicate success.
	ErrStatusRejected = errors.New("status rejected")

	// ErrAccessRefused is the ErrStatusRejected of a 401 or 403 answer
	// to an upload.
	ErrAccessRefused = fmt.Errorf("%w: access refused by the server", ErrStatusRejected)

	// ErrSizeMismatch marks downloads whose byte count differs from the
	// advertised content length.
	ErrSizeMismatch = progress.ErrContentLengthMismatch

	// ErrUnsupportedOperation marks operations the URL scheme cannot do.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// Error names the operation and the URL of a failed transfer.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError carries the status of a rejected response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Status)
	}

	return fmt.Sprintf("%v: %s, body: %s", e.Err, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func transferErr(op, u string, err error) error {
	return &Error{Op: op, URL: u, Err: fmt.Errorf("%w: %w", ErrTransfer, err)}
}

// DownloadError classifies a failed write of the body of u to disk. A
// short body surfaces as ErrSizeMismatch and asks the caller to retry.
func DownloadError(u *url.URL, err error) *Error {
	if errors.Is(err, ErrSizeMismatch) {
		return &Error{Op: "download", URL: u.Redacted(), Err: fmt.Errorf("downloaded file size doesn't match expected Content Length for %s, please retry: %w", u.Redacted(), err)}
	}

	return &Error{Op: "download", URL: u.Redacted(), Err: fmt.Errorf("%w: %w", ErrTransfer, err)}
}

// NewStatusError builds the StatusError of a rejected response, keeping
// at most MaxErrBodySize of body.
func NewStatusError(code int, status string, body []byte, sentinel error) *StatusError {
	if len(body) > MaxErrBodySize {
		body = body[:MaxErrBodySize]
	}

	return &StatusError{
		StatusCode: code,
		Status:     status,
		Body:       string(body),
		Err:        sentinel,
	}
}

// newStatusError reads at most MaxErrBodySize of the body.
func newStatusError(resp *http.Response, sentinel error) *StatusError {
	var body []byte
	if resp.Body != nil && resp.Request != nil && resp.Request.Method != http.MethodHead {
		b, err := io.ReadAll(io.LimitReader(resp.Body, MaxErrBodySize))
		if err != nil {
			b = []byte("unable to read body")
		}
		body = b
	}

	return NewStatusError(resp.StatusCode, resp.Status, body, sentinel)
}
