package quickpay

import "fmt"

// ErrorClass partitions gateway failures for retry and surfacing decisions.
type ErrorClass int

const (
	// ClassUnknown covers responses that fit no known category; they must be
	// surfaced for manual review, never assumed failed.
	ClassUnknown ErrorClass = iota
	// ClassAuth covers bad or missing credentials. Not retriable without
	// operator intervention.
	ClassAuth
	// ClassClient covers validation failures. Terminal for the operation.
	ClassClient
	// ClassTransient covers 5xx responses and timeouts. Retriable for
	// idempotent reads only.
	ClassTransient
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}

// Class maps the HTTP status onto the error taxonomy.
func (e *APIError) Class() ErrorClass {
	switch {
	case e.Status == 401 || e.Status == 403:
		return ClassAuth
	case e.Status == 400 || e.Status == 404 || e.Status == 409 || e.Status == 422:
		return ClassClient
	case e.Status >= 500:
		return ClassTransient
	default:
		return ClassUnknown
	}
}
