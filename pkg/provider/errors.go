package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rhuss/weiche/pkg/api"
)

// MapHTTPError converts a non-2xx provider answer into a typed error.
// Both vendor families report {"error": {"message": ...}}; the message is
// extracted when present.
func MapHTTPError(vendor api.Vendor, status int, header http.Header, body []byte) *api.Error {
	message := ExtractErrorMessage(body)

	var e *api.Error
	switch {
	case status == http.StatusTooManyRequests:
		if message == "" {
			message = "provider rate limit exceeded"
		}
		e = api.NewRateLimitedError(vendor, message)
		e.RetryAfter = parseRetryAfter(header)

	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		// An answer from the vendor, so not an egress failure.
		if message == "" {
			message = fmt.Sprintf("provider timed out (HTTP %d)", status)
		}
		e = api.NewError(api.ErrorKindProviderUnavailable, message).WithVendor(vendor)
		e.Reason = "upstream_timeout"

	case status >= http.StatusInternalServerError:
		if message == "" {
			message = fmt.Sprintf("provider unavailable (HTTP %d)", status)
		}
		e = api.NewError(api.ErrorKindProviderUnavailable, message).WithVendor(vendor)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		if message == "" {
			message = "provider authentication failed"
		}
		e = api.NewError(api.ErrorKindProviderRejected, message).WithVendor(vendor)
		e.Reason = "auth"

	default:
		if message == "" {
			message = fmt.Sprintf("provider rejected the request (HTTP %d)", status)
		}
		e = api.NewError(api.ErrorKindProviderRejected, message).WithVendor(vendor)
	}
	e.StatusCode = status
	return e
}

// MapNetworkError converts a connection-level error into TIMEOUT or
// TRANSPORT_ERROR. Reason carries a short classification used in logs.
func MapNetworkError(vendor api.Vendor, err error) *api.Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return api.NewTimeoutError(vendor, "provider call exceeded its deadline").WithCause(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return api.NewTimeoutError(vendor, "provider call timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		e := api.NewTransportError(vendor, "provider call canceled").WithCause(err)
		e.Reason = "canceled"
		return e
	}

	e := api.NewTransportError(vendor, fmt.Sprintf("provider connection error: %s", err.Error())).WithCause(err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "proxyconnect"), strings.Contains(msg, "tunnel"):
		e.Reason = "proxy"
	case strings.Contains(msg, "connection reset"):
		e.Reason = "connection_reset"
	case strings.Contains(msg, "connection refused"):
		e.Reason = "connection_refused"
	case strings.Contains(msg, "no such host"):
		e.Reason = "dns"
	default:
		e.Reason = "connection"
	}
	return e
}

// ExtractErrorMessage returns the provider's error message from an error
// body, or "" when none can be found.
func ExtractErrorMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error.message", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
