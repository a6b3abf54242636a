package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollector(reg)

	m.RecordMutation("create_post", nil)
	m.RecordMutation("create_post", errors.New("boom"))
	m.RecordBroadcast("new-post", 2)
	m.RecordEvictions(3)
	m.UpdatePresence(1, 2, 3)
	m.RecordHTTPRequest("GET", "/posts/:id", "200", 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutationsTotal.WithLabelValues("create_post", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutationsTotal.WithLabelValues("create_post", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deliveryFailures.WithLabelValues("new-post")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reaperEvictions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.presenceConnections))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector

	assert.NotPanics(t, func() {
		m.RecordMutation("delete_post", nil)
		m.RecordCascade(4)
		m.UpdatePresence(0, 0, 0)
		m.RecordBroadcast("user-typing", 1)
		m.RecordNotification("SOCIAL_LIKE", nil)
	})
}
