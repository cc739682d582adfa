// Package metrics exposes engine counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Namespace prefixes every metric name.
const Namespace = "chatinbox"

// Default is the process-wide registry served on the metrics endpoint.
var Default = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups every labelled series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]writer
}

type writer interface {
	write(w io.Writer, name, labels string)
}

// Registry holds metric families. Lookups for an existing series are
// lock-free after the first registration.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	cache    sync.Map // name{labels} -> writer
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), started: time.Now()}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration { return time.Since(r.started) }

// lookup returns the series for name and labels, creating it with mk.
// Registering one name under two kinds panics.
func (r *Registry) lookup(name, help, labels string, k kind, mk func() writer) writer {
	key := name + "{" + labels + "}"
	if s, ok := r.cache.Load(key); ok {
		return s.(writer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]writer)}
		r.families[name] = f
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	r.cache.Store(key, s)
	return s
}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc() { c.n.Add(1) }
func (c *Counter) Add(n int64) { c.n.Add(n) }
func (c *Counter) Value() int64 { return c.n.Load() }

func (c *Counter) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s %d\n", seriesName(name, labels), c.Value())
}

// Gauge tracks a current level.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(v int64) { g.n.Store(v) }
func (g *Gauge) Inc() { g.n.Add(1) }
func (g *Gauge) Dec() { g.n.Add(-1) }
func (g *Gauge) Value() int64 { return g.n.Load() }

func (g *Gauge) write(w io.Writer, name, labels string) {
	fmt.Fprintf(w, "%s %d\n", seriesName(name, labels), g.Value())
}

// Histogram counts observations into cumulative upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64
	total  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) write(w io.Writer, name, labels string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		bound := "+Inf"
		if !math.IsInf(le, 1) {
			bound = fmt.Sprintf("%g", le)
		}
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, bound, h.counts[i])
	}
	fmt.Fprintf(w, "%s %d\n", seriesName(name+"_count", labels), h.total)
	fmt.Fprintf(w, "%s %f\n", seriesName(name+"_sum", labels), h.sum)
}

// Counter returns the counter for name and labels, registering it if needed.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.lookup(name, help, labels, kindCounter, func() writer { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge for name and labels, registering it if needed.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.lookup(name, help, labels, kindGauge, func() writer { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram for name and labels. Bounds are only used
// on first registration.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return r.lookup(name, help, labels, kindHistogram, func() writer {
		b := slices.Clone(bounds)
		slices.Sort(b)
		return &Histogram{bounds: b, counts: make([]int64, len(b))}
	}).(*Histogram)
}

func seriesName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Expose writes the exposition text, families and series in sorted order.
func (r *Registry) Expose(w io.Writer) {
	fmt.Fprintf(w, "# HELP %s_uptime_seconds Time since start in seconds\n", Namespace)
	fmt.Fprintf(w, "# TYPE %s_uptime_seconds gauge\n", Namespace)
	fmt.Fprintf(w, "%s_uptime_seconds %d\n", Namespace, int64(r.Uptime().Seconds()))

	r.mu.Lock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	snapshot := make(map[string]*family, len(r.families))
	for name, f := range r.families {
		cp := *f
		cp.series = make(map[string]writer, len(f.series))
		for l, s := range f.series {
			cp.series[l] = s
		}
		snapshot[name] = &cp
	}
	r.mu.Unlock()

	slices.Sort(names)
	for _, name := range names {
		f := snapshot[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		labels := make([]string, 0, len(f.series))
		for l := range f.series {
			labels = append(labels, l)
		}
		slices.Sort(labels)
		for _, l := range labels {
			f.series[l].write(w, f.name, l)
		}
	}
}

// Render returns the exposition text as a string.
func (r *Registry) Render() string {
	var sb strings.Builder
	r.Expose(&sb)
	return sb.String()
}

// Handler serves the exposition text.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Expose(w)
	}
}

var (
	MessagesStored   = Default.Counter("chatinbox_messages_stored_total", "Messages persisted", "")
	MessagesIgnored  = Default.Counter("chatinbox_messages_ignored_total", "Messages dropped before persistence", "")
	MutationsApplied = Default.Counter("chatinbox_mutations_applied_total", "Edits and deletes applied to stored messages", "")
	DegradedContacts = Default.Counter("chatinbox_degraded_contacts_total", "Linked-device ids kept unresolved", "")
	BotForwards      = Default.Counter("chatinbox_bot_forwards_total", "Messages forwarded to bots", "")
	BotReplies       = Default.Counter("chatinbox_bot_replies_total", "Bot replies sent through the gateway", "")
	StepFailures     = Default.Counter("chatinbox_step_failures_total", "Downstream steps that failed", "")
	IngestQueueDepth = Default.Gauge("chatinbox_ingest_queue_depth", "Deliveries waiting in the ingest queue", "")
	RealtimeClients  = Default.Gauge("chatinbox_realtime_clients", "Connected real-time websocket clients", "")

	HandleLatency = Default.Histogram("chatinbox_handle_latency_seconds", "Event handling latency in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
)

// EventsTotal returns the per-type inbound event counter.
func EventsTotal(eventType string) *Counter {
	return Default.Counter("chatinbox_events_total", "Inbound webhook events by type", `type="`+eventType+`"`)
}

// QuotaDenied returns the per-type quota denial counter.
func QuotaDenied(quotaType string) *Counter {
	return Default.Counter("chatinbox_quota_denied_total", "Bot steps skipped by quota", `quota="`+quotaType+`"`)
}
