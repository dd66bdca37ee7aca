package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeInvalidCredentials, Message: "Invalid email or password"},
			want: "Invalid email or password",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeProfileLoadFailure,
				Message: "failed to load profile",
				Cause:   errors.New("connection refused"),
			},
			want: "failed to load profile: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternal, "wrapped error")

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(wrapped, cause) = false, want true")
	}
}

func TestWrap_NilError(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "ignored"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestAs(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		if got := As(nil); got != nil {
			t.Errorf("As(nil) = %v, want nil", got)
		}
	})

	t.Run("app error passes through wrapping", func(t *testing.T) {
		inner := New(ErrCodeRateLimited, "Too many attempts")
		got := As(fmt.Errorf("login: %w", inner))
		if got != inner {
			t.Errorf("As() = %v, want the inner AppError", got)
		}
	})

	t.Run("plain error becomes unknown", func(t *testing.T) {
		cause := errors.New("boom")
		got := As(cause)
		if got.Code != ErrCodeUnknown {
			t.Errorf("As().Code = %v, want %v", got.Code, ErrCodeUnknown)
		}
		if !errors.Is(got, cause) {
			t.Errorf("As() should keep the cause")
		}
	})
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(ErrCodeWeakPassword, "Password too short"))

	if !Is(err, ErrCodeWeakPassword) {
		t.Errorf("Is(err, weak_password) = false, want true")
	}
	if Is(err, ErrCodeValidation) {
		t.Errorf("Is(err, validation) = true, want false")
	}
	if Is(errors.New("plain"), ErrCodeWeakPassword) {
		t.Errorf("Is(plain error) = true, want false")
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("email", "Email is required")
	if !IsValidation(err) {
		t.Errorf("ValidationField() should be a validation error")
	}
	if GetField(err) != "email" {
		t.Errorf("GetField() = %q, want %q", GetField(err), "email")
	}
}

func TestGetCode_NonAppError(t *testing.T) {
	if code := GetCode(errors.New("plain")); code != "" {
		t.Errorf("GetCode(plain) = %q, want empty", code)
	}
}
