package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/engine/enginetest"
)

var _ engine.Observer = (*Metrics)(nil)

func TestMetricsObserveSession(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	a := enginetest.ObjectiveExam(10, 0)
	clk := enginetest.NewFakeClock(time.Now())
	store := enginetest.NewMemoryStore()
	store.SaveErrs = []error{errors.New("timeout")}

	s, err := engine.NewSession(engine.Config{
		Assessment:    &a,
		StudentID:     "s1",
		AttemptNumber: 1,
		Store:         store,
		Clock:         clk,
		Observer:      m,
	})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(90 * time.Second)
	_, _ = s.Submit(context.Background())
	if _, err := s.RetrySave(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.SessionsOpened.WithLabelValues("EXAM", "OBJECTIVE")); got != 1 {
		t.Errorf("sessions opened = %v", got)
	}
	if got := testutil.ToFloat64(m.SubmitFailures.WithLabelValues("TRANSIENT_STORE_ERROR")); got != 1 {
		t.Errorf("transient failures = %v", got)
	}
	if got := testutil.ToFloat64(m.AttemptsSaved.WithLabelValues("EXAM", "MANUAL")); got != 1 {
		t.Errorf("attempts saved = %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New("exstem", prometheus.NewRegistry())
	m.RetakeDecided(engine.Decision{Allowed: false, Reason: engine.ReasonPassed})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `exstem_retake_decisions_total{allowed="false",reason="latest attempt already passed"} 1`) {
		t.Fatalf("body missing retake counter:\n%s", rec.Body.String())
	}
}

func TestMetricsDraftsFlushed(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	m.DraftsFlushed("save", 3, 1)
	m.DraftsFlushed("clear", 2, 0)

	cases := []struct {
		op, result string
		want       float64
	}{
		{"save", "written", 3},
		{"save", "requeued", 1},
		{"clear", "written", 2},
		{"clear", "requeued", 0},
	}
	for _, c := range cases {
		if got := testutil.ToFloat64(m.DraftWrites.WithLabelValues(c.op, c.result)); got != c.want {
			t.Errorf("%s/%s = %v, want %v", c.op, c.result, got, c.want)
		}
	}
}
