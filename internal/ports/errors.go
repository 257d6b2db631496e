package ports

import (
	"errors"
	"fmt"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrDisposed           = errors.New("component already disposed")

	// Market API Errors
	ErrServiceUnavailable   = errors.New("market service is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check access token)")
	ErrSnapshotUnavailable  = errors.New("history snapshot unavailable")
	ErrStaleResponse        = errors.New("response superseded by a newer request")
	ErrUnknownSymbol        = errors.New("unknown symbol")

	// Feed Errors
	ErrConnectionFailed  = errors.New("failed to connect to the market feed")
	ErrNotConnected      = errors.New("market feed is not connected")
	ErrAlreadySubscribed = errors.New("a symbol is already subscribed on this connection")
	ErrMalformedTick     = errors.New("malformed tick payload")

	// Sell Errors
	ErrEmptyHolding     = errors.New("nothing to sell for this symbol")
	ErrInvalidQuantity  = errors.New("sell quantity must be between 1 and the held quantity")
	ErrSellInProgress   = errors.New("another sell is already in progress")
	ErrSellRejected     = errors.New("sell order rejected")
	ErrInsufficientHeld = errors.New("insufficient quantity held")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// APIError carries the server-provided message of a failed REST call.
// It unwraps to the sentinel the status code maps to.
type APIError struct {
	Status  int
	Code    string
	Message string
	Kind    error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// UserMessage returns the server message carried by err, if any.
func UserMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	return "", false
}
