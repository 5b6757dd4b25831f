package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/indextrack/internal/record"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Observed("biblio", record.OutcomeCreate)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Observations.WithLabelValues("biblio", "create")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Observations.WithLabelValues("biblio", "create")))
}

func TestCounters(t *testing.T) {
	m := New()

	m.Observed("biblio", record.OutcomeCreate)
	m.Observed("biblio", record.OutcomeNoop)
	m.Observed("biblio", record.OutcomeNoop)
	m.Deleted("biblio")
	m.Failed("observe")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Observations.WithLabelValues("biblio", "create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Observations.WithLabelValues("biblio", "noop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deletions.WithLabelValues("biblio")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("observe")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := New()
	m.Observed("authority", record.OutcomeUpdate)
	m.ObserveRecord(time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `indextrack_observations_total{namespace="authority",outcome="update"} 1`), body)
	assert.True(t, strings.Contains(body, "indextrack_record_duration_seconds_count 1"), body)
}
