// Package response writes the JSON envelopes every endpoint answers with: {"data": ...} on
// success and {"error": {"code", "message", "details"}} on failure.
package response

import (
	"net/http"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
)

// Code is the machine-readable error code SDKs branch on.
type Code string

const (
	CodeMissingKey        Code = "MISSING_KEY"
	CodeInvalidKey        Code = "INVALID_KEY"
	CodeUnknownKey        Code = "UNKNOWN_KEY"
	CodeMissingSDK        Code = "MISSING_SDK"
	CodeInvalidSDK        Code = "INVALID_SDK"
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeDemoMode          Code = "DEMO_MODE"
	CodeUnknownRoute      Code = "UNKNOWN_ROUTE"
	CodeRateLimited       Code = "RATE_LIMIT_EXCEEDED"
	CodeBrokerUnavailable Code = "BROKER_UNAVAILABLE"
	CodeDegraded          Code = "DEGRADED"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeNotImplemented    Code = "NOT_IMPLEMENTED"
)

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, dataEnvelope{Data: data})
}

// Accepted answers 202: the capture is queued, not yet stored.
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, dataEnvelope{Data: data})
}

func Error(w http.ResponseWriter, status int, code Code, message string, details any) {
	write(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}
