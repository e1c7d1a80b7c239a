package observability_test

import (
	"testing"
	"time"

	"github.com/aretw0/idem/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.Outcome("order", observability.OutcomeAdmitted)
	m.Outcome("order", observability.OutcomeRepeat)
	m.Outcome("order", observability.OutcomeRepeat)
	m.Release(observability.ReleaseNotOwner)
	m.ObserveWork("order", 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("order", observability.OutcomeAdmitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("order", observability.OutcomeRepeat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Releases.WithLabelValues(observability.ReleaseNotOwner)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WorkDuration))
}

func TestMetrics_Nil(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.Outcome("p", observability.OutcomeAdmitted)
		m.ObserveWork("p", time.Second)
		m.Release(observability.ReleaseReleased)
	})
}
