package store

import (
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrValidation is reported when an item fails the validation gate (422).
	ErrValidation = errors.New("database: validation failed")

	// ErrConflict is reported when creating an item whose id already exists in its partition (409).
	ErrConflict = errors.New("database: item already exists")

	// ErrNotFound is reported when a point read finds nothing (404).
	ErrNotFound = errors.New("database: item not found")

	// ErrPartialFailure is reported when a bulk operation has mixed per-item outcomes (207).
	ErrPartialFailure = errors.New("database: bulk operation partially failed")

	// ErrBadRequest is reported when a request is malformed, e.g. too many ids (400).
	ErrBadRequest = errors.New("database: bad request")

	// ErrUnknownType is reported when an item type has no route.
	ErrUnknownType = errors.New("database: unknown item type")
)

// ValidationError describes why an item was rejected before reaching the store.
type ValidationError struct {
	// Message is a human-readable description.
	Message string

	// InstancePath is a JSON pointer into the offending item ("" for the root).
	InstancePath string

	// Property names the missing or invalid property, when known
	// (e.g. "type", "language.id", or a required schema property).
	Property string

	// Params carries schema keyword details.
	Params map[string]any

	// Cause is the offending item.
	Cause Item
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("database: ")
	if e.InstancePath != "" {
		b.WriteString(e.InstancePath)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StatusOf returns the HTTP status carried by a store error, or 500 if it has none.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) && withStatus.HTTPStatusCode() != 0 {
		return withStatus.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}
