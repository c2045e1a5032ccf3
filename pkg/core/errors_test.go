package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := NewProtocolError("frame matched no known message")
	if got := err.Error(); got != "protocol_error: frame matched no known message" {
		t.Fatalf("error string = %q", got)
	}

	coded := &Error{Type: ErrAPI, Message: "quota exceeded", Code: "429"}
	if got := coded.Error(); got != "api_error: quota exceeded (code: 429)" {
		t.Fatalf("coded error string = %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	retryable := []*Error{
		NewTransportError("dial failed", nil),
		NewAPIError("internal"),
	}
	for _, err := range retryable {
		if !err.IsRetryable() {
			t.Fatalf("%s not retryable", err.Type)
		}
	}

	terminal := []*Error{
		NewPermissionError("microphone denied"),
		NewInvalidRequestError("bad model"),
		NewResumptionError("no handle"),
		NewRateLimitError("slow down", 30),
		NewAuthenticationError("bad key"),
		NewProtocolError("garbage"),
	}
	for _, err := range terminal {
		if err.IsRetryable() {
			t.Fatalf("%s retryable; requires caller action", err.Type)
		}
	}
}

func TestUnwrapAndAs(t *testing.T) {
	t.Parallel()

	cause := errors.New("broken pipe")
	err := NewTransportError("write failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("underlying cause not reachable via errors.Is")
	}

	wrapped := fmt.Errorf("send turn: %w", err)
	var target *Error
	if !As(wrapped, &target) || target.Type != ErrTransport {
		t.Fatalf("As through wrapping failed: %v", wrapped)
	}

	if NewProtocolError("x").Unwrap() != nil {
		t.Fatal("error without cause unwrapped to non-nil")
	}
}

func TestRateLimitCarriesWait(t *testing.T) {
	t.Parallel()

	err := NewRateLimitError("quota", 45)
	if err.RetryAfter == nil || *err.RetryAfter != 45 {
		t.Fatalf("retry after = %v", err.RetryAfter)
	}
}
