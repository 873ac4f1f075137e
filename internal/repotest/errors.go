package repotest

import (
	"encoding/json"
	"net/http"
)

// Error is a failure reported to the client with its status code.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// respondJSON to an HTTP request, setting the status code and body if any.
func respondJSON(w http.ResponseWriter, statusCode int, data any) error {
	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err = w.Write(jsonData); err != nil {
		return err
	}

	return nil
}
