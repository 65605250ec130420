package glm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotConfigured is returned without any network call when no API key is set.
	ErrNotConfigured = errors.New("glm api key not configured")
	// ErrEmptyResponse is returned when the provider answers with no usable choice.
	ErrEmptyResponse = errors.New("glm returned no choices")
)

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	StatusCode int
	// Code and Message come from the provider error envelope, when present.
	Code    string
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("glm non-success status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("glm non-success status=%d body=%s", e.StatusCode, e.Body)
}

// TransportError is a failure to reach the endpoint or to read its answer.
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("glm request timed out: %v", e.Err)
	}
	return fmt.Sprintf("glm request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a 2xx answer whose body is not a completion payload.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to parse glm response: %v body=%s", e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind is the closed set of failure classes surfaced to users.
type Kind string

const (
	KindNone          Kind = ""
	KindNotConfigured Kind = "not_configured"
	KindBalance       Kind = "balance"
	KindModelNotFound Kind = "model_not_found"
	KindAuth          Kind = "auth"
	KindTimeout       Kind = "timeout"
	KindEmpty         Kind = "empty_response"
	KindOther         Kind = "other"
)

// Provider error codes documented for the GLM open platform.
var (
	balanceCodes = map[string]bool{"1113": true}
	authCodes    = map[string]bool{"1000": true, "1001": true, "1002": true, "1003": true, "1004": true}
	modelCodes   = map[string]bool{"1211": true}
)

// Classify maps an error returned by Client.Complete to its failure class.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, ErrNotConfigured) {
		return KindNotConfigured
	}
	if errors.Is(err, ErrEmptyResponse) {
		return KindEmpty
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.kind()
	}
	var te *TransportError
	if errors.As(err, &te) && te.Timeout {
		return KindTimeout
	}
	return KindOther
}

// kind prefers the provider code, then the HTTP status; text matching is a
// last-resort heuristic for providers that omit codes.
func (e *StatusError) kind() Kind {
	switch {
	case balanceCodes[e.Code]:
		return KindBalance
	case modelCodes[e.Code]:
		return KindModelNotFound
	case authCodes[e.Code]:
		return KindAuth
	}

	text := strings.ToLower(e.Message + " " + e.Body)
	if containsAny(text, "balance", "insufficient", "quota", "arrears") {
		return KindBalance
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusPaymentRequired:
		return KindBalance
	}
	if strings.Contains(text, "model") && containsAny(text, "not found", "not exist", "does not exist", "unknown") {
		return KindModelNotFound
	}
	if e.StatusCode == http.StatusNotFound && strings.Contains(text, "model") {
		return KindModelNotFound
	}
	if containsAny(text, "unauthorized", "authentication", "invalid api key", "invalid token") {
		return KindAuth
	}
	return KindOther
}

func containsAny(s string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
