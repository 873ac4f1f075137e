package handler

import (
	"log/slog"
	"net/http"
	"net/url"
)

// StatusClass is the verdict of the status policy.
type StatusClass int

const (
	StatusSuccess StatusClass = iota
	StatusProxyAuthRequired
	StatusClientError
	StatusServerError
	StatusUnexpected
)

func (c StatusClass) String() string {
	switch c {
	case StatusSuccess:
		return "success"
	case StatusProxyAuthRequired:
		return "proxy authentication required"
	case StatusClientError:
		return "client error"
	case StatusServerError:
		return "server error"
	default:
		return "unexpected status"
	}
}

// ClassifyStatus applies the status policy shared by probes, streams
// and downloads. Only 200 passes, plus 204 for HEAD requests, which
// some servers send instead of 200.
func ClassifyStatus(method string, code int) StatusClass {
	switch {
	case code == http.StatusOK:
		return StatusSuccess
	case method == http.MethodHead && code == http.StatusNoContent:
		return StatusSuccess
	case code == http.StatusProxyAuthRequired:
		return StatusProxyAuthRequired
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	}

	return StatusUnexpected
}

// CheckStatus logs rejected statuses and reports whether code passes.
func CheckStatus(logger *slog.Logger, method string, u *url.URL, code int, status string) bool {
	class := ClassifyStatus(method, code)
	if class == StatusSuccess {
		return true
	}

	logger.Debug("HTTP response status", "status", code, "url", u.Redacted())
	switch class {
	case StatusProxyAuthRequired:
		logger.Warn("your proxy requires authentication", "url", u.Redacted())
	case StatusClientError:
		logger.Debug("CLIENT ERROR", "status", status, "url", u.Redacted())
	case StatusServerError:
		logger.Error("SERVER ERROR", "status", status, "url", u.Redacted())
	}

	return false
}

// ValidatePutStatus accepts 200, 201, 202 and 204 answers to a PUT.
func ValidatePutStatus(code int, status string) error {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &StatusError{StatusCode: code, Status: status, Err: ErrAccessRefused}
	}

	return &StatusError{StatusCode: code, Status: status, Err: ErrStatusRejected}
}
