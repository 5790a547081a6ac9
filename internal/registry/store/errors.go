package store

import "fmt"

// NotFoundError indicates the resource was not found. Membership checks
// also return it so callers cannot distinguish "does not exist" from
// "not yours".
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// ConflictError indicates a concurrency conflict that survived the
// store's bounded retries.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// ForbiddenError indicates the caller is not authorized for the
// operation, e.g. sending into a conversation they are not part of.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string {
	return "forbidden"
}
