package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yungbote/podscribe-backend/internal/resilience"
)

func TestJobCountersTrackInflight(t *testing.T) {
	m := New()
	m.JobStarted("deepgram")
	m.JobStarted("deepgram")
	m.JobFinished("deepgram", "done", 3*time.Second)

	if got := testutil.ToFloat64(m.jobsInflight.WithLabelValues("deepgram")); got != 1 {
		t.Fatalf("inflight: got %v want 1", got)
	}
	if got := testutil.ToFloat64(m.jobsFinished.WithLabelValues("deepgram", "done")); got != 1 {
		t.Fatalf("finished: got %v want 1", got)
	}
}

func TestBreakerListenerSetsStateGauge(t *testing.T) {
	m := New()
	listen := m.BreakerListener()
	listen("whisper", resilience.StateClosed, resilience.StateOpen)
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("whisper")); got != 2 {
		t.Fatalf("open: got %v want 2", got)
	}
	listen("whisper", resilience.StateOpen, resilience.StateHalfOpen)
	if got := testutil.ToFloat64(m.breakerState.WithLabelValues("whisper")); got != 1 {
		t.Fatalf("half-open: got %v want 1", got)
	}
}

func TestPublishAndLLMCounters(t *testing.T) {
	m := New()
	m.ObservePublish("job_update", nil)
	m.ObservePublish("job_update", errors.New("redis down"))
	m.ObserveLLMRequest("gpt-4o-mini", "/v1/chat/completions", "200", time.Second, 120, 40)

	if got := testutil.ToFloat64(m.publishes.WithLabelValues("job_update", "error")); got != 1 {
		t.Fatalf("publish errors: got %v", got)
	}
	if got := testutil.ToFloat64(m.llmTokens.WithLabelValues("gpt-4o-mini", "input")); got != 120 {
		t.Fatalf("input tokens: got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobStarted("x")
	m.JobFinished("x", "done", time.Second)
	m.ObserveAPI("GET", "/api/jobs", 200, time.Millisecond)
	m.ObserveStage("x", "transcribe", "ok", time.Second)
	m.BreakerListener()("x", "closed", "open")
	m.BatchEvent("started")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler: got %d", rec.Code)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveAPI("GET", "/api/batches", 200, 20*time.Millisecond)
	m.BatchEvent("created")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ps_api_requests_total{method="GET",route="/api/batches",status="200"} 1`,
		`ps_batch_events_total{event="created"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in scrape output", want)
		}
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" a=1 , bad, b = 2 ,=x")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("got %v", got)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty input should give nil")
	}
}
