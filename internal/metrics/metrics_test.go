package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsInitialization(t *testing.T) {
	assert.NotNil(t, QuantizeCallsTotal)
	assert.NotNil(t, QuantizeValuesTotal)
	assert.NotNil(t, QuantizeSaturatedTotal)
	assert.NotNil(t, QuantizeScale)
	assert.NotNil(t, ReconstructionL2)
	assert.NotNil(t, KernelDurationSeconds)
	assert.NotNil(t, FlightOperationsTotal)
	assert.NotNil(t, FlightDurationSeconds)
	assert.NotNil(t, DatasetsStored)
	assert.NotNil(t, ReportExportsTotal)
	assert.NotNil(t, RateLimitRequestsTotal)
	assert.NotNil(t, LogEntriesTotal)
}

func TestCounterVecIncrements(t *testing.T) {
	before := testutil.ToFloat64(FlightOperationsTotal.WithLabelValues("DoGet", "ok"))
	FlightOperationsTotal.WithLabelValues("DoGet", "ok").Inc()
	after := testutil.ToFloat64(FlightOperationsTotal.WithLabelValues("DoGet", "ok"))
	assert.Equal(t, before+1, after)
}

func TestGaugeSet(t *testing.T) {
	DatasetsStored.Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(DatasetsStored))
	DatasetsStored.Set(0)
}
