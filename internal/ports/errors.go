package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange / upstream source errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the upstream source")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrMalformedPayload     = errors.New("malformed upstream payload")

	// Stream transport errors
	ErrNotConnected          = errors.New("stream transport is not connected")
	ErrSubscriptionTimeout   = errors.New("subscription was not confirmed in time")
	ErrSubscriptionRejected  = errors.New("subscription was rejected by the server")
	ErrTransportStopped      = errors.New("stream transport stopped")
	ErrUnknownSubscriptionID = errors.New("unknown subscription handler id")

	// Data errors
	ErrInsufficientData = errors.New("insufficient history for calculation")
	ErrFetchExhausted   = errors.New("all fetch attempts failed and no fallback is available")

	// Storage errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
	ErrDeleteFailed = errors.New("database delete failed")
)
