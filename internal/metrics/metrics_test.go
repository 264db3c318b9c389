package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/health", "/health"},
		{"/api/auction/lots/12/bids", "/api/auction/lots/:id/bids"},
		{"/api/lottery/pools/7/spin/", "/api/lottery/pools/:id/spin"},
	}
	for _, tt := range tests {
		if got := canonicalPath(tt.in); got != tt.want {
			t.Errorf("canonicalPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/things/:id", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/things/3", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/things/:id", "418"))
	if after-before != 1 {
		t.Errorf("requests_total delta = %v, want 1", after-before)
	}
}

func TestRecordPoints(t *testing.T) {
	credit := testutil.ToFloat64(points.WithLabelValues("credit"))
	debit := testutil.ToFloat64(points.WithLabelValues("debit"))

	RecordPoints(25)
	RecordPoints(-10)
	RecordPoints(0)

	if got := testutil.ToFloat64(points.WithLabelValues("credit")) - credit; got != 25 {
		t.Errorf("credit delta = %v, want 25", got)
	}
	if got := testutil.ToFloat64(points.WithLabelValues("debit")) - debit; got != 10 {
		t.Errorf("debit delta = %v, want 10", got)
	}
}
