package access

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthErrorCode classifies authentication failures. The value is reported to
// clients as the OpenAI error code.
type AuthErrorCode string

const (
	AuthErrorCodeNoCredentials     AuthErrorCode = "missing_api_key"
	AuthErrorCodeInvalidCredential AuthErrorCode = "invalid_api_key"
	AuthErrorCodeNotHandled        AuthErrorCode = "not_handled"
)

// AuthError carries authentication failure details and HTTP status.
type AuthError struct {
	Code       AuthErrorCode
	Message    string
	StatusCode int
	Cause      error
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "authentication error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", message, e.Cause)
	}
	return message
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// HTTPStatusCode returns a safe fallback for missing status codes.
func (e *AuthError) HTTPStatusCode() int {
	if e == nil || e.StatusCode <= 0 {
		return http.StatusUnauthorized
	}
	return e.StatusCode
}

func NewNoCredentialsError() *AuthError {
	return &AuthError{Code: AuthErrorCodeNoCredentials, Message: "API key required.", StatusCode: http.StatusUnauthorized}
}

func NewInvalidCredentialError() *AuthError {
	return &AuthError{Code: AuthErrorCodeInvalidCredential, Message: "Invalid API key provided.", StatusCode: http.StatusUnauthorized}
}

func NewNotHandledError() *AuthError {
	return &AuthError{Code: AuthErrorCodeNotHandled, Message: "authentication provider did not handle request"}
}

// IsAuthErrorCode reports whether authErr carries code.
func IsAuthErrorCode(authErr *AuthError, code AuthErrorCode) bool {
	return authErr != nil && authErr.Code == code
}
