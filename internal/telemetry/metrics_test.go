package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordsSentLabels(t *testing.T) {
	before := testutil.ToFloat64(RecordsSent.WithLabelValues("telemetry-test", "ok"))
	RecordsSent.WithLabelValues("telemetry-test", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RecordsSent.WithLabelValues("telemetry-test", "ok")))
}

func TestExpose_DisabledOnZeroPort(t *testing.T) {
	s := Expose(0)
	assert.Nil(t, s)
	s.Stop()
}
