package router

import (
	"encoding/json"
	"io"
	"net/http"
)

// JsonError is the wire shape of every failed request: {"ok":false,
// "reason":"..."}. The status code travels in the header only.
type JsonError struct {
	Code   int    `json:"-"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func NewJsonError(code int, reason string) JsonError {
	return JsonError{Code: code, Reason: reason}
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Reason
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}

// DefaultError is returned for any handler error that no mapper claims.
var DefaultError = JsonError{
	Code:   http.StatusInternalServerError,
	Reason: "internal_error",
}
