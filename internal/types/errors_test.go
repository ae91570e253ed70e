package types

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationInvalidTimezone, http.StatusBadRequest},
		{ErrCodeAuthCronSecretMissing, http.StatusUnauthorized},
		{ErrCodeAuthCronSecretInvalid, http.StatusUnauthorized},
		{ErrCodeNotFoundBill, http.StatusNotFound},
		{ErrCodeConflictAlreadyScheduled, http.StatusConflict},
		{ErrCodeUpstreamEmail, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestAppError_Error(t *testing.T) {
	withCause := NewAppError(ErrCodeInternalDB, "failed to claim item", errors.New("conn closed"))
	if got := withCause.Error(); got != "internal_database_error: failed to claim item: conn closed" {
		t.Errorf("Error() = %q", got)
	}

	withoutCause := NewAppError(ErrCodeNotFoundBill, "bill not found", nil)
	if got := withoutCause.Error(); got != "not_found_bill: bill not found" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("conn closed")
	err := NewAppError(ErrCodeInternalDB, "failed to claim item", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var appErr *AppError
	wrapped := error(err)
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As should extract *AppError")
	}
	if appErr.Code != ErrCodeInternalDB {
		t.Errorf("code = %s", appErr.Code)
	}
}
