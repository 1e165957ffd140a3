package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(gateRejections.WithLabelValues("cost"))
	RecordGateRejection("cost")
	assert.Equal(t, before+1, testutil.ToFloat64(gateRejections.WithLabelValues("cost")))

	RecordLLMCall("m-test", "ok", 100, 20, 0.5)
	assert.Equal(t, 100.0, testutil.ToFloat64(llmTokensTotal.WithLabelValues("m-test", "input")))
	assert.Equal(t, 0.5, testutil.ToFloat64(llmCostTotal.WithLabelValues("m-test")))

	RecordLLMCall("m-test", "error", 0, 0, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(llmCallsTotal.WithLabelValues("m-test", "error")))
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 503: "5xx", 0: "unknown"}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status))
	}
}

func TestHandler(t *testing.T) {
	RecordSession("manual", "completed", 3*time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chief_of_staff_sessions_total{status="completed",trigger="manual"}`)
}
