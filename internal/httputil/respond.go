// Package httputil provides shared request decoding and response writing
// helpers for the gateway's HTTP surface.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/R3E-Network/entity_gateway/internal/errors"
	"github.com/R3E-Network/entity_gateway/internal/logging"
)

// ErrorBody is the machine-readable error payload.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorEnvelope is the wire shape of every error response.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

// DecodeJSON decodes a request body into dst, rejecting trailing garbage.
func DecodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return errors.Validation("invalid JSON body").WithDetails("cause", err.Error())
	}
	if dec.More() {
		return errors.Validation("unexpected trailing data in JSON body")
	}
	return nil
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteRawJSON writes an already-serialized JSON body.
func WriteRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	env := ErrorEnvelope{
		Error:     ErrorBody{Code: code, Message: message, Details: details},
		RequestID: logging.GetRequestID(r.Context()),
	}
	WriteJSON(w, status, env)
}

// WriteError renders err through the taxonomy: ServiceErrors keep their code
// and status, anything else becomes an opaque 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	details := se.Details
	if se.Code == errors.CodeInternal {
		// Never leak backend detail on 500s.
		details = nil
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, details)
}

// Unauthorized writes a 401 with an optional message.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteJSON(w, http.StatusUnauthorized, ErrorEnvelope{
		Error: ErrorBody{Code: string(errors.CodeUnauthorized), Message: message},
	})
}
