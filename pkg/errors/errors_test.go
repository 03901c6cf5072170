package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *FastpathError
		want string
	}{
		{
			name: "code and message only",
			err:  NewError(ErrCodeInternalError, "boom"),
			want: "INTERNAL_ERROR: boom",
		},
		{
			name: "with component",
			err:  NewError(ErrCodePoolClosed, "pool is closed").WithComponent("pool"),
			want: "[pool] POOL_CLOSED: pool is closed",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeAcquisitionTimeout, "deadline exceeded").WithComponent("pool").WithOperation("acquire"),
			want: "[pool:acquire] ACQUISITION_TIMEOUT: deadline exceeded",
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

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeAcquisitionTimeout, CategoryConnection},
		{ErrCodeCircuitOpen, CategoryConnection},
		{ErrCodeDoubleRelease, CategoryConnection},
		{ErrCodeForeignHandle, CategoryConnection},
		{ErrCodeCacheTierUnavailable, CategoryCache},
		{ErrCodeSerializationFailed, CategoryCache},
		{ErrCodePoolExists, CategoryState},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeNotInitialized, CategoryState},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrCodeOperationTimeout, CategoryOperation},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestRetryableDefaults(t *testing.T) {
	if !IsRetryableByDefault(ErrCodeAcquisitionTimeout) {
		t.Error("expected acquisition timeout retryable")
	}
	if !IsRetryableByDefault(ErrCodeBackendUnavailable) {
		t.Error("expected backend unavailable retryable")
	}
	if IsRetryableByDefault(ErrCodeValidationFailed) {
		t.Error("validation failures must never be retryable")
	}
	if IsRetryableByDefault(ErrCodeInvalidConfig) {
		t.Error("config errors must not be retryable")
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewError(ErrCodeBackendUnavailable, "pre-warm failed").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if got := stderrors.Unwrap(err); got != cause {
		t.Errorf("Unwrap = %v, want %v", got, cause)
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := NewError(ErrCodePoolClosed, "first")
	b := NewError(ErrCodePoolClosed, "second")
	c := NewError(ErrCodePoolExists, "other")

	if !stderrors.Is(a, b) {
		t.Error("expected same-code errors to match")
	}
	if stderrors.Is(a, c) {
		t.Error("expected different-code errors not to match")
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := NewError(ErrCodeAcquisitionTimeout, "deadline exceeded")
	wrapped := fmt.Errorf("processing request: %w", inner)
	outer := NewError(ErrCodeInternalError, "request failed").WithCause(wrapped)

	if !IsCode(outer, ErrCodeAcquisitionTimeout) {
		t.Error("expected IsCode to find the code deep in the chain")
	}
	if !IsCode(outer, ErrCodeInternalError) {
		t.Error("expected IsCode to match the outermost code")
	}
	if IsCode(outer, ErrCodePoolClosed) {
		t.Error("expected IsCode to reject absent codes")
	}
	if IsCode(nil, ErrCodeInternalError) {
		t.Error("expected IsCode(nil) to be false")
	}
	if IsCode(stderrors.New("plain"), ErrCodeInternalError) {
		t.Error("expected plain errors not to match")
	}
}

func TestErrorContextAndDetails(t *testing.T) {
	err := NewError(ErrCodePoolNotFound, "pool not registered").
		WithContext("pool", "primary").
		WithDetail("known_pools", 3).
		WithRequestID("req-1")

	if err.Context["pool"] != "primary" {
		t.Errorf("expected context pool=primary, got %v", err.Context)
	}
	if err.Details["known_pools"] != 3 {
		t.Errorf("expected detail known_pools=3, got %v", err.Details)
	}
	if err.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %s", err.RequestID)
	}
}

func TestErrorJSON(t *testing.T) {
	err := NewError(ErrCodeCircuitOpen, "circuit breaker is open").
		WithComponent("circuit").WithContext("breaker", "primary")

	var decoded map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(err.JSON()), &decoded); jsonErr != nil {
		t.Fatalf("JSON output did not parse: %v", jsonErr)
	}
	if decoded["code"] != "CIRCUIT_OPEN" {
		t.Errorf("expected code CIRCUIT_OPEN, got %v", decoded["code"])
	}
	if decoded["component"] != "circuit" {
		t.Errorf("expected component circuit, got %v", decoded["component"])
	}
}
