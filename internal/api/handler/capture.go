package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/tracerelay/internal/api/response"
	"github.com/kiranshivaraju/tracerelay/internal/capture"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// Validator defines the validation dependency of the capture handler.
type Validator interface {
	Validate(ctx context.Context, req capture.Request) (*capture.Routed, error)
}

// Publisher defines the broker dependency of the capture handler.
type Publisher interface {
	Publish(ctx context.Context, topic string, env models.Envelope) error
}

type captureResponse struct {
	Route string `json:"route"`
}

// NewCaptureHandler returns an http.HandlerFunc for POST /api/capture/{route}.
// The request is answered once the broker has accepted the envelope.
func NewCaptureHandler(v Validator, p Publisher, maxBodyBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
					"Request body exceeds the capture size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Unable to read request body", nil)
			return
		}

		routed, err := v.Validate(r.Context(), capture.Request{
			Route:   chi.URLParam(r, "route"),
			Payload: body,
			Header:  r.Header,
		})
		if err != nil {
			writeCaptureError(w, err)
			return
		}

		if err := p.Publish(r.Context(), routed.Topic, routed.Envelope); err != nil {
			slog.Error("publish capture failed", "error", err,
				"topic", routed.Topic, "project_id", routed.Envelope.ProjectID)
			response.Error(w, http.StatusServiceUnavailable, response.CodeBrokerUnavailable,
				"The event could not be queued, retry later", nil)
			return
		}

		response.Accepted(w, captureResponse{Route: string(routed.Kind)})
	}
}

// captureErrors maps validator failures to responses, checked in order with errors.Is.
var captureErrors = []struct {
	err     error
	status  int
	code    response.Code
	message string
}{
	{capture.ErrDemoMode, http.StatusForbidden, response.CodeDemoMode, "Capturing is disabled in demo mode"},
	{capture.ErrUnknownRoute, http.StatusNotFound, response.CodeUnknownRoute, "Unknown capture route"},
	{capture.ErrMissingKey, http.StatusUnauthorized, response.CodeMissingKey, "Missing x-sdk-key header"},
	{capture.ErrInvalidKey, http.StatusUnauthorized, response.CodeInvalidKey, "Malformed SDK key"},
	{capture.ErrUnknownKey, http.StatusUnauthorized, response.CodeUnknownKey, "No project found for SDK key"},
	{capture.ErrMissingSDK, http.StatusBadRequest, response.CodeMissingSDK, "Missing x-sdk-name header"},
	{capture.ErrInvalidSDK, http.StatusBadRequest, response.CodeInvalidSDK, "Unsupported SDK name"},
	{capture.ErrInvalidPayload, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body"},
}

func writeCaptureError(w http.ResponseWriter, err error) {
	for _, ce := range captureErrors {
		if errors.Is(err, ce.err) {
			response.Error(w, ce.status, ce.code, ce.message, nil)
			return
		}
	}
	slog.Error("capture validation failed", "error", err)
	response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
}
