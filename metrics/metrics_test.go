package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordActionApplied("ADD")
	c.RecordActionApplied("ADD")
	c.RecordPurchase(ResultOutOfStock)
	c.RecordStoreWrite("users", ResultDropped)
	c.RecordAdviceFallback("advice")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.actionsApplied.WithLabelValues("ADD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purchases.WithLabelValues(ResultOutOfStock)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeWrites.WithLabelValues("users", ResultDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.adviceFallbacks.WithLabelValues("advice")))
}

func TestHandler_Exposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).RecordPurchase(ResultOK)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `points_purchases_total{result="ok"} 1`))
}
