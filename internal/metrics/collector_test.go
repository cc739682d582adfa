package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistry_SameSeriesForSameLabels(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "x", `type="a"`)
	b := r.Counter("x_total", "x", `type="a"`)
	if a != b {
		t.Fatal("expected the same counter for identical name and labels")
	}
	if r.Counter("x_total", "x", `type="b"`) == a {
		t.Fatal("different labels must yield a different counter")
	}
}

func TestRegistry_KindConflictPanics(t *testing.T) {
	r := NewRegistry()
	r.Counter("dup", "d", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when a counter name is reused as a gauge")
		}
	}()
	r.Gauge("dup", "d", "")
}

func TestRegistry_Render(t *testing.T) {
	r := NewRegistry()
	r.Counter("t_events_total", "events", `type="presence"`).Inc()
	r.Counter("t_events_total", "events", `type="message"`).Add(3)
	r.Gauge("t_queue", "queue", "").Set(7)
	h := r.Histogram("t_latency", "latency", `route="a"`, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)

	out := r.Render()
	for _, want := range []string{
		"chatinbox_uptime_seconds",
		`t_events_total{type="message"} 3`,
		`t_events_total{type="presence"} 1`,
		"t_queue 7",
		`t_latency_bucket{route="a",le="0.1"} 1`,
		`t_latency_bucket{route="a",le="1"} 2`,
		`t_latency_count{route="a"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
	if strings.Count(out, "# TYPE t_events_total counter") != 1 {
		t.Error("HELP/TYPE should be written once per metric name")
	}
	if strings.Index(out, `type="message"`) > strings.Index(out, `type="presence"`) {
		t.Error("series should be sorted")
	}
}

func TestHistogram_ObserveSince(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("lat", "l", "", []float64{60})
	h.ObserveSince(time.Now().Add(-time.Second))
	if !strings.Contains(r.Render(), `lat_bucket{le="60"} 1`) {
		t.Fatalf("observation not bucketed:\n%s", r.Render())
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Gauge("g", "g", "").Set(1)
	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "g 1") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestEventsTotal(t *testing.T) {
	before := EventsTotal("status").Value()
	EventsTotal("status").Inc()
	if EventsTotal("status").Value() != before+1 {
		t.Error("EventsTotal should return a shared counter")
	}
}
