package resilience

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Layer classifies where a failure originated, which drives the HTTP
// status and whether the caller can recover by changing the request.
type Layer string

const (
	LayerAuth          Layer = "auth"
	LayerAuthorization Layer = "authorization"
	LayerValidation    Layer = "validation"
	LayerSchema        Layer = "schema"
	LayerTransient     Layer = "transient"
	LayerServer        Layer = "server"
)

// LayeredError carries a failure's layer plus a machine-readable code
// and the specific unmet reasons for validation failures.
type LayeredError struct {
	Layer   Layer
	Code    string
	Message string
	Reasons []string
	Err     error
}

func (e *LayeredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Layer, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Layer, e.Code, e.Message)
}

func (e *LayeredError) Unwrap() error { return e.Err }

// Validation builds a user-recoverable failure carrying the specific
// unmet reasons, never a generic message.
func Validation(code, message string, reasons ...string) *LayeredError {
	return &LayeredError{Layer: LayerValidation, Code: code, Message: message, Reasons: reasons}
}

// Auth builds an authentication failure.
func Auth(code, message string) *LayeredError {
	return &LayeredError{Layer: LayerAuth, Code: code, Message: message}
}

// Forbidden builds an authorization failure.
func Forbidden(code, message string) *LayeredError {
	return &LayeredError{Layer: LayerAuthorization, Code: code, Message: message}
}

// Postgres error codes that indicate a deployment mismatch rather than
// a user mistake.
const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// ClassifyLayer resolves an error to its layer. Schema-shaped database
// errors (missing table or column) are server-fatal; transient network
// failures are retryable; everything unrecognized is a server error.
func ClassifyLayer(err error) Layer {
	var le *LayeredError
	if errors.As(err, &le) {
		return le.Layer
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgUndefinedColumn:
			return LayerSchema
		}
	}
	if IsTransient(err) {
		return LayerTransient
	}
	return LayerServer
}
