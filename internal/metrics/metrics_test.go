package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveAcquisition("gallery", "acquired")
	m.ObserveAcquisition("gallery", "acquired")
	m.ObserveAcquisition("camera", "refused")
	m.ObserveClassification("ok", 20*time.Millisecond)
	m.ObservePermission("granted")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.InDelta(t, 2, testutil.ToFloat64(m.Acquisitions.WithLabelValues("gallery", "acquired")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Acquisitions.WithLabelValues("camera", "refused")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Classifications.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PermissionDecisions.WithLabelValues("granted")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveSessions), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.InferenceDuration))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAcquisition("gallery", "acquired")
		m.ObserveClassification("ok", time.Second)
		m.ObservePermission("denied")
		m.SessionOpened()
		m.SessionClosed()
	})
}
