package auth

import (
	"fmt"
	"net/http"
)

// Error is the single typed error for the authentication path. It
// carries a machine code and an HTTP status so the request boundary can
// translate it into a response without inspecting messages.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Format errors (401): the raw key matches no known prefix/length
// pattern. No store lookup is attempted for these.
func errInvalidKeyFormat() *Error {
	return &Error{Code: "invalid_key_format", Status: http.StatusUnauthorized, Message: "invalid API key format"}
}

// Resolution errors (401): well-formed key that was never issued, or
// was revoked. The message deliberately matches no format-error message
// so callers cannot distinguish "malformed" from "unknown" by probing.
func errInvalidKey() *Error {
	return &Error{Code: "invalid_key", Status: http.StatusUnauthorized, Message: "invalid API key"}
}

// Origin errors (403).
func errOriginRequired() *Error {
	return &Error{Code: "origin_required", Status: http.StatusForbidden, Message: "Origin header is required for public keys"}
}

func errNullOrigin() *Error {
	return &Error{Code: "null_origin", Status: http.StatusForbidden, Message: "null origin is not allowed"}
}

func errInvalidOriginFormat() *Error {
	return &Error{Code: "invalid_origin", Status: http.StatusForbidden, Message: "invalid origin format"}
}

// Transport-policy errors (403).
func errHTTPSRequired() *Error {
	return &Error{Code: "https_required", Status: http.StatusForbidden, Message: "HTTPS is required in production"}
}

func errLocalhostForbidden() *Error {
	return &Error{Code: "localhost_forbidden", Status: http.StatusForbidden, Message: "production keys cannot be used from localhost"}
}

// Whitelist errors (403).
func errDomainNotWhitelisted(hostname string) *Error {
	return &Error{
		Code:    "domain_not_whitelisted",
		Status:  http.StatusForbidden,
		Message: fmt.Sprintf("domain %q is not whitelisted for this website", hostname),
	}
}
