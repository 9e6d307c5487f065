package httpclient

import (
	"net/http"
	"strings"

	"github.com/textport/textport/internal/common/apperrors"
)

// Category errors for API failures. Callers match them with errors.Is to
// decide on remediation; every classified error wraps exactly one of these.
var (
	// ErrAuthentication indicates missing or invalid credentials, recoverable by re-login.
	ErrAuthentication = apperrors.New("authentication failed").
				SetStatusCode(http.StatusUnauthorized).
				SetHint("run `textport login` to authenticate")

	// ErrAPIKeyRequired indicates the operation needs an API key rather than a session token.
	ErrAPIKeyRequired = apperrors.New("an API key is required").
				SetStatusCode(http.StatusUnauthorized).
				SetHint("create one with `textport apikeys create`")

	// ErrValidation indicates the request was rejected due to invalid input.
	ErrValidation = apperrors.New("request validation failed").
			SetStatusCode(http.StatusBadRequest)

	// ErrInsufficientCredits indicates the account balance cannot cover the operation.
	ErrInsufficientCredits = apperrors.New("insufficient credits").
				SetStatusCode(http.StatusPaymentRequired).
				SetHint("add credits to your account at https://app.textport.com/billing")

	// ErrNotFound indicates the referenced resource does not exist.
	ErrNotFound = apperrors.New("resource not found").
			SetStatusCode(http.StatusNotFound)

	// ErrRateLimited indicates the request was throttled by the server.
	ErrRateLimited = apperrors.New("rate limit exceeded").
			SetStatusCode(http.StatusTooManyRequests)

	// ErrAPI is the catch-all for any other non-2xx response.
	ErrAPI = apperrors.New("api request failed")
)

// defaultRetryAfter is used when a 429 response does not advertise a delay.
const defaultRetryAfter = 60

// apiError aliases apperrors.Error for embedding; a field literally named
// Error would shadow the promoted Error method.
type apiError = apperrors.Error

// ValidationError carries the structured field details from a 400 response.
type ValidationError struct {
	apiError
	Details map[string]any
}

// RateLimitError carries the server-advertised delay from a 429 response.
type RateLimitError struct {
	apiError
	RetryAfter int // seconds to wait before retrying
}

// errorBody is the wire format of error responses.
type errorBody struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details"`
	RetryAfter int            `json:"retryAfter"`
}

// Classify maps an HTTP status and raw error body to a typed error.
// It is a pure mapping with no I/O. Empty or non-JSON bodies are
// tolerated and treated as an empty error body.
func Classify(status int, body []byte) apperrors.Error {
	var wire errorBody
	if len(body) > 0 {
		// Decode failures leave wire zero-valued on purpose.
		_ = jsonAPI.Unmarshal(body, &wire)
	}

	msg := wire.Message
	if msg == "" {
		msg = wire.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if isAPIKeyFailure(wire.Error, wire.Message) {
			return ErrAPIKeyRequired.New(msg).SetStatusCode(status).SetCode(wire.Error)
		}
		return ErrAuthentication.New(msg).SetStatusCode(status).SetCode(wire.Error)
	case http.StatusBadRequest:
		return &ValidationError{
			apiError: ErrValidation.New(msg).SetCode(wire.Error),
			Details:  wire.Details,
		}
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits.New(msg).SetCode(wire.Error)
	case http.StatusNotFound:
		return ErrNotFound.New(msg).SetCode(wire.Error)
	case http.StatusTooManyRequests:
		retryAfter := wire.RetryAfter
		if retryAfter <= 0 {
			retryAfter = defaultRetryAfter
		}
		return &RateLimitError{
			apiError:   ErrRateLimited.New(msg).SetCode(wire.Error),
			RetryAfter: retryAfter,
		}
	default:
		err := ErrAPI.New(msg).SetStatusCode(status).SetCode(wire.Error)
		if status >= http.StatusInternalServerError {
			err = err.SetHint("the service may be having trouble; retry shortly or check https://status.textport.com")
		}
		return err
	}
}

// isAPIKeyFailure reports whether an auth failure is specifically about a
// missing or invalid API key, which has a different remediation than a
// stale login session.
func isAPIKeyFailure(code, message string) bool {
	switch code {
	case "api_key_required", "invalid_api_key":
		return true
	}
	return strings.Contains(strings.ToLower(message), "api key")
}
