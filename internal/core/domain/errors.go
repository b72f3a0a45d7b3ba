package domain

import (
	"errors"
	"strings"
)

var (
	// ErrValidation covers missing or malformed transaction input.
	ErrValidation = errors.New("invalid input")

	// ErrItemNotFound means the code resolved to no catalog item.
	ErrItemNotFound = errors.New("item not found")

	// ErrLocationNotFound means the location is unregistered or maps to no
	// storage cell for the targeted item. No mutation happens on this path.
	ErrLocationNotFound = errors.New("location not found")

	// ErrUnauthorized means the identity is not on the user allow-list.
	ErrUnauthorized = errors.New("identity not authorized")

	// ErrBusy means the per-cell lease could not be acquired before the
	// deadline. Retryable; nothing was written.
	ErrBusy = errors.New("stock cell busy")

	// ErrConfiguration means the backing tables do not match the registered
	// schema (unknown column, missing table). Fatal for the request.
	ErrConfiguration = errors.New("storage configuration invalid")

	// ErrTransport is a client-side network failure. For a submission the
	// outcome is unknown and the call must not be retried automatically.
	ErrTransport = errors.New("transport failure")

	// ErrSubmitInFlight is returned while another submission is outstanding.
	ErrSubmitInFlight = errors.New("submission already in flight")
)

// Wire categories carried in the error field of the sync envelope.
const (
	CategoryValidation    = "validation"
	CategoryNotFound      = "not-found"
	CategoryUnauthorized  = "unauthorized"
	CategoryConcurrency   = "concurrency"
	CategoryConfiguration = "configuration"
	CategoryServer        = "server"
)

// Category maps an error to its envelope category.
func Category(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLocationNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrUnauthorized):
		return CategoryUnauthorized
	case errors.Is(err, ErrBusy):
		return CategoryConcurrency
	case errors.Is(err, ErrConfiguration):
		return CategoryConfiguration
	default:
		return CategoryServer
	}
}

// FromCategory maps an envelope category back to the matching sentinel,
// keeping the server's message as the error text. Not-found collapses onto
// the item sentinel unless the message names a location.
func FromCategory(category, message string) error {
	var sentinel error
	switch category {
	case CategoryValidation:
		sentinel = ErrValidation
	case CategoryNotFound:
		sentinel = ErrItemNotFound
		if strings.Contains(message, ErrLocationNotFound.Error()) {
			sentinel = ErrLocationNotFound
		}
	case CategoryUnauthorized:
		sentinel = ErrUnauthorized
	case CategoryConcurrency:
		sentinel = ErrBusy
	case CategoryConfiguration:
		sentinel = ErrConfiguration
	default:
		return errors.New(message)
	}
	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return &wireError{sentinel: sentinel, message: message}
}

// wireError pairs a received message with the sentinel it categorizes as.
type wireError struct {
	sentinel error
	message  string
}

func (e *wireError) Error() string { return e.message }

func (e *wireError) Unwrap() error { return e.sentinel }
