package errors

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProblemDetails_MarshalJSON(t *testing.T) {
	p := NewInvalidTransitionError("order is FILLED", "/api/v1/orders/o-1").
		WithTraceID("abc").
		WithExtra("order_id", "o-1")

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, TypeInvalidTransition, out["type"])
	assert.Equal(t, float64(http.StatusConflict), out["status"])
	assert.Equal(t, "abc", out["trace_id"])
	assert.Equal(t, "o-1", out["order_id"])
	assert.NotContains(t, out, "errors")
}

func TestProblemDetails_ExtraCannotOverrideStatus(t *testing.T) {
	p := NewOrderNotFoundError("missing", "").WithExtra("status", 200)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(http.StatusNotFound), out["status"])
	assert.Equal(t, "missing", p.Error())
}

func TestProblemDetails_ValidationErrors(t *testing.T) {
	p := NewValidationError("bad request", "/api/v1/orders").WithValidationErrors([]ValidationError{
		{Field: "quantity", Message: "must be positive", Code: "gt"},
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"field":"quantity"`)
}
