// Package metrics exposes store activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/roach88/epicflow/pkg/epic"
)

const namespace = "epicflow"

// Collector is an epic.Observer that counts cycles and invocations.
type Collector struct {
	gatherer prometheus.Gatherer

	cycles         *prometheus.CounterVec
	reducers       *prometheus.CounterVec
	listeners      prometheus.Counter
	rollbacks      *prometheus.CounterVec
	listenerErrors prometheus.Counter
	changed        prometheus.Counter
	duration       *prometheus.HistogramVec
}

// New registers the collector's metrics on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c, err := NewWithRegistry(reg, reg)
	if err != nil {
		// A fresh registry cannot hold conflicting collectors.
		panic(err)
	}
	return c
}

// NewWithRegistry registers the collector's metrics on reg. gatherer is
// used by Summary and may be nil.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Collector, error) {
	c := &Collector{
		gatherer: gatherer,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished cycles by kind and outcome.",
		}, []string{"kind", "outcome"}),
		reducers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reducer_invocations_total",
			Help:      "Reducer invocations by epic.",
		}, []string{"epic"}),
		listeners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_invocations_total",
			Help:      "Store listener invocations.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rolled back cycles by error code.",
		}, []string{"code"}),
		listenerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_errors_total",
			Help:      "Committed cycles whose listeners failed.",
		}),
		changed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epic_changes_total",
			Help:      "Epics committed with a new value, summed over cycles.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Cycle wall time by kind.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),
	}

	for _, col := range []prometheus.Collector{
		c.cycles, c.reducers, c.listeners, c.rollbacks, c.listenerErrors, c.changed, c.duration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// ReducerInvoked implements epic.Observer.
func (c *Collector) ReducerInvoked(ev epic.ReducerEvent) {
	if ev.Listener {
		c.listeners.Inc()
		return
	}
	c.reducers.WithLabelValues(ev.Epic).Inc()
}

// CycleFinished implements epic.Observer.
func (c *Collector) CycleFinished(rep epic.CycleReport) {
	kind := string(rep.Kind)
	c.cycles.WithLabelValues(kind, rep.Outcome()).Inc()
	c.duration.WithLabelValues(kind).Observe(rep.Duration.Seconds())

	switch {
	case rep.Err != nil:
		code := string(epic.CodeOf(rep.Err))
		if code == "" {
			code = "handler"
		}
		c.rollbacks.WithLabelValues(code).Inc()
	case rep.ListenerErr != nil:
		c.listenerErrors.Inc()
	}
	c.changed.Add(float64(len(rep.Changed)))
}

// Sample is one counter value.
type Sample struct {
	Name   string  `json:"name"`
	Labels string  `json:"labels,omitempty"`
	Value  float64 `json:"value"`
}

// Summary returns every counter sample, sorted by name then labels.
// Histograms are reported by their sample count.
func (c *Collector) Summary() ([]Sample, error) {
	if c.gatherer == nil {
		return nil, fmt.Errorf("collector has no gatherer")
	}
	families, err := c.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			s := Sample{Name: mf.GetName(), Labels: formatLabels(m.GetLabel())}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.Value = m.GetCounter().GetValue()
			case dto.MetricType_HISTOGRAM:
				s.Name += "_count"
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Sample) int {
		if n := strings.Compare(a.Name, b.Name); n != 0 {
			return n
		}
		return strings.Compare(a.Labels, b.Labels)
	})
	return out, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s=%q", p.GetName(), p.GetValue())
	}
	return strings.Join(parts, ",")
}
