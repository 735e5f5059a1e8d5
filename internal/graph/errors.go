// ABOUTME: Error types for platform API failures
// ABOUTME: APIError carries the Graph error envelope and matches ErrUpstream

package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUpstream matches every failure talking to the platform.
var ErrUpstream = errors.New("platform API request failed")

// APIError is a non-success response from the platform.
type APIError struct {
	Status  int
	Message string
	Type    string
	Code    int
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("platform API error %d (%s, code %d): %s", e.Status, e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("platform API error %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUpstream) match API errors.
func (e *APIError) Is(target error) bool {
	return target == ErrUpstream
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// apiErrorFromBody decodes the platform error envelope, falling back to
// fallback when the body is not one.
func apiErrorFromBody(status int, body []byte, fallback string) *APIError {
	apiErr := &APIError{Status: status, Message: fallback}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		apiErr.Code = env.Error.Code
	}
	return apiErr
}
