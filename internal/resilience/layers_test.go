package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLayer_LayeredError(t *testing.T) {
	assert.Equal(t, LayerValidation, ClassifyLayer(Validation("BAD_INPUT", "bad")))
	assert.Equal(t, LayerAuth, ClassifyLayer(Auth("BAD_TOKEN", "bad token")))
	assert.Equal(t, LayerAuthorization, ClassifyLayer(Forbidden("NOT_YOURS", "nope")))
}

func TestClassifyLayer_WrappedLayeredError(t *testing.T) {
	err := fmt.Errorf("handler: %w", Validation("GATE_UNMET", "gate"))
	assert.Equal(t, LayerValidation, ClassifyLayer(err))
}

func TestClassifyLayer_SchemaErrors(t *testing.T) {
	assert.Equal(t, LayerSchema, ClassifyLayer(&pgconn.PgError{Code: "42P01"}))
	assert.Equal(t, LayerSchema, ClassifyLayer(&pgconn.PgError{Code: "42703"}))
	// Other pg errors are not schema mismatches.
	assert.Equal(t, LayerServer, ClassifyLayer(&pgconn.PgError{Code: "23505"}))
}

func TestClassifyLayer_Transient(t *testing.T) {
	err := &TransientError{Err: errors.New("connection reset by peer")}
	assert.Equal(t, LayerTransient, ClassifyLayer(err))
}

func TestClassifyLayer_DefaultsToServer(t *testing.T) {
	assert.Equal(t, LayerServer, ClassifyLayer(errors.New("boom")))
}

func TestLayeredError_CarriesReasons(t *testing.T) {
	err := Validation("GATE_UNMET", "commit gate is not satisfied", "reason one", "reason two")
	require.Len(t, err.Reasons, 2)
	assert.Contains(t, err.Error(), "GATE_UNMET")

	var le *LayeredError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", err), &le))
	assert.Equal(t, "GATE_UNMET", le.Code)
}
