package miio

import (
	"errors"

	"github.com/nerrad567/gray-logic-miio/internal/miio/schema"
	"github.com/nerrad567/gray-logic-miio/internal/miio/transform"
)

// Error taxonomy. Schema and transformation errors are defined by their
// packages and re-exported here so callers need only this package.
var (
	// ErrSchemaNotFound is returned when no schema exists for a model.
	ErrSchemaNotFound = schema.ErrSchemaNotFound

	// ErrSchemaParse is returned when a schema document is malformed.
	ErrSchemaParse = schema.ErrSchemaParse

	// ErrSchemaIO is returned when a schema document cannot be read.
	ErrSchemaIO = schema.ErrSchemaIO

	// ErrTransformation is returned when a channel transformation fails.
	ErrTransformation = transform.ErrTransformation

	// ErrChannelConfigInvalid is returned for a channel definition that
	// cannot be materialized (missing id or data type, duplicate id,
	// refresh without a property).
	ErrChannelConfigInvalid = errors.New("miio: invalid channel configuration")

	// ErrCoercion is returned when a decoded value cannot be converted to
	// the channel's data type.
	ErrCoercion = errors.New("miio: value coercion failed")

	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("miio: transport error")

	// ErrUnsupportedCommand is returned when a command value cannot be
	// encoded for the action's parameter type.
	ErrUnsupportedCommand = errors.New("miio: unsupported command")
)
