package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure within the closed federation error taxonomy.
type ErrorKind string

const (
	// KindUnauthenticated indicates the caller's credentials could not be verified.
	KindUnauthenticated ErrorKind = "unauthenticated"

	// KindUnauthorized indicates an authenticated caller is not allowed to perform the operation.
	KindUnauthorized ErrorKind = "unauthorized"

	// KindInvalidParameter indicates malformed or inconsistent request data.
	KindInvalidParameter ErrorKind = "invalid_parameter"

	// KindInstanceNotFound indicates the order or its instance does not exist.
	KindInstanceNotFound ErrorKind = "instance_not_found"

	// KindQuotaExceeded indicates the user's quota cannot accommodate the request.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindNoAvailableResources indicates the provider has no capacity for the request.
	KindNoAvailableResources ErrorKind = "no_available_resources"

	// KindUnavailableProvider indicates a remote member or cloud was unreachable or timed out.
	KindUnavailableProvider ErrorKind = "unavailable_provider"

	// KindUnexpected indicates an internal or configuration fault.
	KindUnexpected ErrorKind = "unexpected"
)

// Kinds lists every kind of the taxonomy.
var Kinds = []ErrorKind{
	KindUnauthenticated,
	KindUnauthorized,
	KindInvalidParameter,
	KindInstanceNotFound,
	KindQuotaExceeded,
	KindNoAvailableResources,
	KindUnavailableProvider,
	KindUnexpected,
}

// Valid reports whether k belongs to the taxonomy.
func (k ErrorKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// FedError is a failure classified within the federation error taxonomy.
type FedError struct {
	// Kind is the taxonomy classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// OrderID is the order involved, if any.
	OrderID string `json:"order_id,omitempty"`

	// Err is the underlying cause. It never crosses a process boundary.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *FedError) Error() string {
	msg := e.Message
	if e.OrderID != "" {
		msg = fmt.Sprintf("%s (order=%s)", msg, e.OrderID)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FedError) Unwrap() error {
	return e.Err
}

// Is matches any FedError of the same kind, so errors.Is(err, ErrOrderNotFound) works
// for every not-found failure regardless of message.
func (e *FedError) Is(target error) bool {
	t, ok := target.(*FedError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithOrder adds order context to an error.
func (e *FedError) WithOrder(orderID string) *FedError {
	e.OrderID = orderID
	return e
}

// NewError creates a classified error of the given kind.
func NewError(kind ErrorKind, message string, err error) *FedError {
	return &FedError{Kind: kind, Message: message, Err: err}
}

// NewUnauthenticatedError creates an unauthenticated error.
func NewUnauthenticatedError(message string, err error) *FedError {
	return NewError(KindUnauthenticated, message, err)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string, err error) *FedError {
	return NewError(KindUnauthorized, message, err)
}

// NewInvalidParameterError creates an invalid parameter error.
func NewInvalidParameterError(message string, err error) *FedError {
	return NewError(KindInvalidParameter, message, err)
}

// NewInstanceNotFoundError creates an instance not found error.
func NewInstanceNotFoundError(message string, err error) *FedError {
	return NewError(KindInstanceNotFound, message, err)
}

// NewQuotaExceededError creates a quota exceeded error.
func NewQuotaExceededError(message string, err error) *FedError {
	return NewError(KindQuotaExceeded, message, err)
}

// NewNoAvailableResourcesError creates a no available resources error.
func NewNoAvailableResourcesError(message string, err error) *FedError {
	return NewError(KindNoAvailableResources, message, err)
}

// NewUnavailableProviderError creates an unavailable provider error.
func NewUnavailableProviderError(message string, err error) *FedError {
	return NewError(KindUnavailableProvider, message, err)
}

// NewUnexpectedError creates an unexpected error.
func NewUnexpectedError(message string, err error) *FedError {
	return NewError(KindUnexpected, message, err)
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated      = &FedError{Kind: KindUnauthenticated}
	ErrUnauthorized         = &FedError{Kind: KindUnauthorized}
	ErrInvalidParameter     = &FedError{Kind: KindInvalidParameter}
	ErrOrderNotFound        = &FedError{Kind: KindInstanceNotFound}
	ErrQuotaExceeded        = &FedError{Kind: KindQuotaExceeded}
	ErrNoAvailableResources = &FedError{Kind: KindNoAvailableResources}
	ErrUnavailableProvider  = &FedError{Kind: KindUnavailableProvider}
	ErrUnexpected           = &FedError{Kind: KindUnexpected}
)

// KindOf returns the taxonomy kind of err and whether err is classified at all.
func KindOf(err error) (ErrorKind, bool) {
	var e *FedError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind returns true if err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsNotFound returns true if the error is classified as instance not found.
func IsNotFound(err error) bool {
	return IsKind(err, KindInstanceNotFound)
}

// IsUnexpected returns true if the error is classified as unexpected.
func IsUnexpected(err error) bool {
	return IsKind(err, KindUnexpected)
}

// IsTransient returns true if retrying the same operation on a later scan pass may succeed.
// Unclassified errors are treated as transient.
func IsTransient(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return true
	}
	return kind == KindUnavailableProvider || kind == KindUnexpected
}
