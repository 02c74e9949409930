package errors

import (
	"encoding/json"
	"fmt"
)

// maxMessageLen caps the invoke envelope's error message on the wire.
const maxMessageLen = 500

// Envelope is the invoke surface's error shape.
type Envelope struct {
	Code    Code   `json:"error_code"`
	Message string `json:"message"`
}

// ToEnvelope converts any error into the wire-stable envelope shape,
// truncating the message to the envelope's length cap and mapping
// non-Error values onto UNKNOWN.
func ToEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{}
	}
	code := CodeOf(err)
	msg := err.Error()
	if e, ok := err.(*Error); ok {
		msg = e.Message
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return Envelope{Code: code, Message: msg}
}

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(Unknown, err)
	}
	return fmt.Sprintf("Error: %s\n  Code: %s\n", e.Message, e.Code)
}

// jsonError is the JSON representation of an error for structured logs.
type jsonError struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Cause   string            `json:"cause,omitempty"`
}

// FormatJSON returns a JSON representation of the error for structured
// logging or job-row persistence.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	e, ok := err.(*Error)
	if !ok {
		e = Wrap(Unknown, err)
	}
	je := jsonError{Code: e.Code, Message: e.Message, Details: e.Details}
	if e.Cause != nil {
		je.Cause = e.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		return map[string]any{"error": err.Error()}
	}
	result := map[string]any{
		"error_code": e.Code,
		"message":    e.Message,
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	for k, v := range e.Details {
		result["detail_"+k] = v
	}
	return result
}
