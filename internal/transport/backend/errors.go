package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kailas-cloud/entitled/internal/domain"
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// Unwrap maps every backend rejection to domain.ErrRemoteAction.
func (e *APIError) Unwrap() error { return domain.ErrRemoteAction }

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.Status }

// APIMessage returns the backend message.
func (e *APIError) APIMessage() string { return e.Message }

// APICode returns the structured error code, empty when the backend sent none.
func (e *APIError) APICode() string { return e.Code }

// parseError builds an APIError from a response body. Supports FastAPI
// {"detail": "..."} and {"detail": {"code", "message"}} as well as a bare
// {"code", "message"} body.
func parseError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Code    string          `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}

	e.Code, e.Message = envelope.Code, envelope.Message
	if len(envelope.Detail) > 0 {
		var text string
		if json.Unmarshal(envelope.Detail, &text) == nil {
			e.Message = text
		} else {
			var inner struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(envelope.Detail, &inner) == nil {
				if inner.Code != "" {
					e.Code = inner.Code
				}
				if inner.Message != "" {
					e.Message = inner.Message
				}
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}
