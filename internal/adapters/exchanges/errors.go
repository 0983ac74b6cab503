package exchanges

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every adapter. Callers branch on these with
// errors.Is; adapters attach exchange detail via APIError.
var (
	// ErrConfiguration indicates bad or missing exchange configuration or
	// credentials. Fatal, surfaced at factory construction, never retried.
	ErrConfiguration = errors.New("exchange configuration error")

	// ErrAuthentication indicates the exchange rejected the credentials.
	ErrAuthentication = errors.New("exchange authentication failed")

	// ErrConnection indicates a transient network or timeout failure.
	// Retryable with backoff; trading calls must not be blindly resubmitted.
	ErrConnection = errors.New("exchange connection failed")

	// ErrRateLimited indicates the local budget is exhausted or the
	// exchange reported throttling (HTTP 429).
	ErrRateLimited = errors.New("exchange rate limited the request")

	// ErrUnsupportedSymbol indicates the symbol has no mapping for the
	// exchange. Caller error, detected before any network call.
	ErrUnsupportedSymbol = errors.New("symbol not supported by exchange")

	// ErrInvalidOrderParams indicates quantity/price/order-type constraints
	// were violated. Caller error, detected before any network call.
	ErrInvalidOrderParams = errors.New("invalid order parameters")

	// ErrRiskLimitExceeded indicates a policy rejection such as a leverage
	// ceiling. Never retried as-is.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")

	// ErrOrderRejected indicates an exchange-side business rejection, e.g.
	// insufficient margin. The exchange message is preserved in APIError.
	ErrOrderRejected = errors.New("order rejected by exchange")

	// ErrNotSupported is returned when the exchange does not support the
	// requested operation.
	ErrNotSupported = errors.New("operation not supported by exchange")
)

// APIError carries the exchange's original error payload alongside the
// taxonomy sentinel it maps to, so callers can branch with errors.Is while
// operators still see the raw exchange response.
type APIError struct {
	Exchange   string
	HTTPStatus int
	Code       int
	Message    string
	Raw        []byte

	kind error
}

// NewAPIError builds an APIError classified as kind (one of the sentinels).
func NewAPIError(exchange string, kind error, httpStatus, code int, message string, raw []byte) *APIError {
	return &APIError{
		Exchange:   exchange,
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
		Raw:        raw,
		kind:       kind,
	}
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error %d: %s", e.Exchange, e.Code, e.Message)
	}
	return fmt.Sprintf("%s http %d: %s", e.Exchange, e.HTTPStatus, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.kind
}
