package replicant

import "errors"

var (
	// ErrUnknownType is returned when a type name has no declaration.
	ErrUnknownType = errors.New("unknown type")

	// ErrUnknownAssociation is returned when an association is requested by
	// a name the type does not declare.
	ErrUnknownAssociation = errors.New("unknown association")

	// ErrUnexpectedValue is returned when a value does not belong to the
	// attribute value domain.
	ErrUnexpectedValue = errors.New("unexpected value")
)
