package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestErrorInterface(t *testing.T) {
	var _ error = &Error{}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"with vendor",
			&Error{Kind: ErrorKindTransport, Message: "connection reset", Vendor: VendorOpenAI},
			"TRANSPORT_ERROR: connection reset (vendor: openai)",
		},
		{
			"without vendor",
			&Error{Kind: ErrorKindInvalidRequest, Message: "model is required"},
			"INVALID_REQUEST: model is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantKind ErrorKind
	}{
		{"model not allowed", NewModelNotAllowedError(VendorOpenAI, "gpt-x"), ErrorKindModelNotAllowed},
		{"grounding not supported", NewGroundingNotSupportedError(VendorVertex, "m"), ErrorKindGroundingNotSupported},
		{"grounding required", NewGroundingRequiredFailedError(VendorOpenAI, "no_tool_calls"), ErrorKindGroundingRequiredFailed},
		{"rate limited", NewRateLimitedError(VendorOpenAI, "slow down"), ErrorKindRateLimited},
		{"timeout", NewTimeoutError(VendorOpenAI, "deadline"), ErrorKindTimeout},
		{"transport", NewTransportError(VendorOpenAI, "reset"), ErrorKindTransport},
		{"empty", NewEmptyResponseError(VendorGeminiDirect, "max_tokens"), ErrorKindProviderEmpty},
		{"invalid", NewInvalidRequestError("bad"), ErrorKindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.wantKind)
			}
			if tt.err.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestErrorKindClassification(t *testing.T) {
	policy := []ErrorKind{ErrorKindModelNotAllowed, ErrorKindGroundingNotSupported, ErrorKindGroundingRequiredFailed}
	for _, k := range policy {
		if !k.IsPolicy() {
			t.Errorf("%s.IsPolicy() = false, want true", k)
		}
		if k.IsTransport() {
			t.Errorf("%s.IsTransport() = true, want false", k)
		}
	}
	for _, k := range []ErrorKind{ErrorKindTransport, ErrorKindTimeout} {
		if !k.IsTransport() {
			t.Errorf("%s.IsTransport() = false, want true", k)
		}
	}
	for _, k := range []ErrorKind{ErrorKindRateLimited, ErrorKindProviderRejected, ErrorKindProviderEmpty} {
		if k.IsTransport() || k.IsPolicy() {
			t.Errorf("%s classified as transport or policy", k)
		}
	}
}

func TestAsErrorThroughWrapping(t *testing.T) {
	base := NewTimeoutError(VendorOpenAI, "deadline exceeded")
	wrapped := fmt.Errorf("dispatch: %w", base)

	got, ok := AsError(wrapped)
	if !ok {
		t.Fatal("AsError() ok = false, want true")
	}
	if got != base {
		t.Error("AsError() returned a different error")
	}
	if KindOf(wrapped) != ErrorKindTimeout {
		t.Errorf("KindOf() = %q, want TIMEOUT", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf(plain) should be empty")
	}
}

func TestErrorUnwrapCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError(VendorVertex, "dial failed").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestErrorJSON(t *testing.T) {
	err := NewEmptyResponseError(VendorGeminiDirect, "max_tokens")
	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("Marshal: %v", jerr)
	}
	var m map[string]any
	if jerr := json.Unmarshal(data, &m); jerr != nil {
		t.Fatalf("Unmarshal: %v", jerr)
	}
	if m["kind"] != "PROVIDER_EMPTY_RESPONSE" {
		t.Errorf("kind = %v", m["kind"])
	}
	if m["reason"] != "max_tokens" {
		t.Errorf("reason = %v", m["reason"])
	}
	if m["vendor"] != "gemini_direct" {
		t.Errorf("vendor = %v", m["vendor"])
	}
}
