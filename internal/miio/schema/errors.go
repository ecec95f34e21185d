package schema

import "errors"

// Domain errors for schema loading.
var (
	// ErrSchemaNotFound is returned when no document is registered for a
	// model, or the model name is empty.
	ErrSchemaNotFound = errors.New("schema: not found")

	// ErrSchemaParse is returned when a document is malformed JSON or does
	// not match the device schema structure.
	ErrSchemaParse = errors.New("schema: parse failed")

	// ErrSchemaIO is returned when a document exists but cannot be read.
	ErrSchemaIO = errors.New("schema: read failed")

	// ErrUnknownParameterType is returned for an action parameterType that
	// is not one of the supported names.
	ErrUnknownParameterType = errors.New("schema: unknown parameter type")
)
