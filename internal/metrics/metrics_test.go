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
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/":                          "/",
		"/health":                    "/health",
		"/applications":              "/applications",
		"/applications/APP-1234ABCD": "/applications/:id",
		"/applications/APP-1/review": "/applications/:id/review",
		"/policies":                  "/policies",
		"/policies/upload":           "/policies/upload",
		"/policies/loan/ab12cd34":    "/policies/:domain/:id",
		"/decision/batch/json":       "/decision/batch/json",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestRecordModelCall(t *testing.T) {
	before := testutil.ToFloat64(ModelCalls.WithLabelValues("test", "timeout"))
	RecordModelCall("test", "timeout", 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ModelCalls.WithLabelValues("test", "timeout")))
}

func TestInstrumentHandlerAndExposition(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/applications/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/applications/APP-1", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/applications/:id", "418")))

	RecordDecision("loan", "approved", false)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "xai_decision_evaluations_total"))
}
