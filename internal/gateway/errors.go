package gateway

import "errors"

// Sentinel errors for the failure classes the HTTP layer maps to statuses.
var (
	// ErrBudgetExceeded is returned before any upstream call when the
	// tenant's hourly request ceiling is reached.
	ErrBudgetExceeded = errors.New("ai budget exceeded for tenant (hourly limit)")

	// ErrInvalidResponseFormat is returned when a 2xx provider response
	// does not contain the required JSON shape. It is terminal: the retry
	// loop has already exited by the time the body is validated.
	ErrInvalidResponseFormat = errors.New("invalid AI response format")

	// ErrEmptyResponse is returned when the provider response carries no
	// output text at all.
	ErrEmptyResponse = errors.New("empty AI response")

	// ErrNoValidOptions is returned when every price option fails the
	// minimum-validity checks; there is no partial-success result.
	ErrNoValidOptions = errors.New("AI did not return valid price options")
)

// ValidationError is a caller-correctable input error, surfaced before any
// budget consumption or upstream traffic.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// isShapeError reports whether err is a response-shape failure rather than
// a transport one.
func isShapeError(err error) bool {
	return errors.Is(err, ErrInvalidResponseFormat) ||
		errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrNoValidOptions)
}
