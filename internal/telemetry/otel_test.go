package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/Aidin1998/pincex_orderexec/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := setup(context.Background(), config.TracingConfig{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_ExportsSpans(t *testing.T) {
	var out bytes.Buffer
	cfg := config.TracingConfig{Enabled: true, ServiceName: "orderexec-test"}

	shutdown, err := setup(context.Background(), cfg, &out)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "sweep")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), `"Name":"sweep"`)
	assert.Contains(t, out.String(), "orderexec-test")

	// second shutdown is a no-op
	assert.NoError(t, shutdown(context.Background()))
}
