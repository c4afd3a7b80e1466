package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.TripsSanitized.Add(3)
	c.TripsSkipped.WithLabelValues(ReasonEmpty).Inc()
	c.MatchRequests.WithLabelValues(ResultMatched).Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(c.TripsSanitized))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TripsSkipped.WithLabelValues(ReasonEmpty)))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "porto_trips_sanitized_total 3")
	assert.Contains(t, rec.Body.String(), `porto_trips_skipped_total{reason="empty_trajectory"} 1`)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.TripsFolded.Inc()
	assert.Zero(t, testutil.ToFloat64(b.TripsFolded))
}
