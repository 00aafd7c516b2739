// Package protocol parses native-messaging request envelopes into typed
// Command values and serializes controller results back into response
// envelopes. It performs only structural validation (shape, presence,
// primitive types); semantic validation (origin scheme, nonce length, hash
// length) is the command handler's job.
package protocol

import (
	"encoding/json"

	"github.com/webeid-native/webeid-app/internal/apperrors"
)

// RequestEnvelope is the raw shape of an inbound frame, before per-command
// argument extraction.
type RequestEnvelope struct {
	ID        string          `json:"id,omitempty"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Lang      string          `json:"lang,omitempty"`
}

// ErrorPayload is the body of an error response.
type ErrorPayload struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message,omitempty"`
}

// ResponseEnvelope is the shape every outbound frame takes. Data carries the
// success payload (a command-specific struct); it is omitted on error.
type ResponseEnvelope struct {
	ID    string        `json:"id,omitempty"`
	Data  any           `json:"-"`
	Error *ErrorPayload `json:"error,omitempty"`
}

// MarshalJSON flattens Data's fields alongside "id" and "error": a
// success response is `{ id?, <payload> }`.
func (r ResponseEnvelope) MarshalJSON() ([]byte, error) {
	merged := map[string]any{}

	if r.Data != nil {
		raw, err := json.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return nil, err
		}
	}

	if r.ID != "" {
		merged["id"] = r.ID
	}
	if r.Error != nil {
		merged["error"] = r.Error
	}

	return json.Marshal(merged)
}

// NewSuccessResponse builds a success envelope echoing the original id.
func NewSuccessResponse(id string, data any) ResponseEnvelope {
	return ResponseEnvelope{ID: id, Data: data}
}

// NewErrorResponse builds an error envelope echoing the original id.
func NewErrorResponse(id string, code apperrors.Code, message string) ResponseEnvelope {
	return ResponseEnvelope{ID: id, Error: &ErrorPayload{Code: code, Message: message}}
}
