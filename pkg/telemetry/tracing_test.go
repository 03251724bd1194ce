package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracerProviderExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("vegabridge-test", &buf)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "widget.update")
	span.SetAttributes(AttrWidgetID.String("w1"), AttrRows.Int(3))
	RecordError(ctx, assert.AnError)
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "widget.update")
	assert.Contains(t, buf.String(), "vegabridge.widget.id")
}
