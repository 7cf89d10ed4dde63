package transport

import (
	"encoding/json"
	"net/http"

	"github.com/rhuss/weiche/pkg/api"
)

// Error kinds raised by the transport layer itself. They never come out of
// a dispatch.
const (
	ErrorKindNotFound         api.ErrorKind = "NOT_FOUND"
	ErrorKindUnauthorized     api.ErrorKind = "UNAUTHORIZED"
	ErrorKindTooManyRequests  api.ErrorKind = "TOO_MANY_REQUESTS"
	ErrorKindInternal         api.ErrorKind = "INTERNAL_ERROR"
	ErrorKindPayloadTooLarge  api.ErrorKind = "PAYLOAD_TOO_LARGE"
	ErrorKindUnsupportedMedia api.ErrorKind = "UNSUPPORTED_MEDIA_TYPE"
)

// ErrorResponse is the JSON envelope for transport-level failures.
type ErrorResponse struct {
	Error *api.Error `json:"error"`
}

// HTTPStatusFromKind maps an error kind to the HTTP status code returned
// to the client. Policy outcomes are client-visible 4xx; provider failures
// are gateway 5xx.
func HTTPStatusFromKind(kind api.ErrorKind) int {
	switch kind {
	case api.ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case api.ErrorKindModelNotAllowed:
		return http.StatusForbidden
	case api.ErrorKindGroundingNotSupported, api.ErrorKindGroundingRequiredFailed:
		return http.StatusUnprocessableEntity
	case api.ErrorKindRateLimited, ErrorKindTooManyRequests:
		return http.StatusTooManyRequests
	case api.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case api.ErrorKindProviderUnavailable, api.ErrorKindCircuitOpenDowngraded:
		return http.StatusServiceUnavailable
	case api.ErrorKindTransport, api.ErrorKindProviderEmpty, api.ErrorKindProviderRejected:
		return http.StatusBadGateway
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindUnauthorized:
		return http.StatusUnauthorized
	case ErrorKindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorKindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a JSON error envelope with an explicit status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.Error, statusCode int) {
	WriteJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// WriteError writes err as a JSON error envelope, deriving the status code
// from its kind. Untyped errors become INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := api.AsError(err)
	if !ok {
		apiErr = api.NewError(ErrorKindInternal, err.Error())
	}
	WriteErrorResponse(w, apiErr, HTTPStatusFromKind(apiErr.Kind))
}
