package services

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every *NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a user or vehicle that could not be resolved.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func userNotFound(id string) error {
	return &NotFoundError{Kind: "user", ID: id}
}

func vehicleNotFound(id string) error {
	return &NotFoundError{Kind: "vehicle", ID: id}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
