package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func decide(s sdktrace.Sampler) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       oteltrace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "GET /prices",
	}).Decision
}

func TestSampler_Ratio(t *testing.T) {
	assert.Equal(t, sdktrace.Drop, decide(Sampler(0)), "0 samples nothing")
	assert.Equal(t, sdktrace.RecordAndSample, decide(Sampler(1)))
}

func TestInitTrace_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTrace("quotes-test", Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
