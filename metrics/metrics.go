// Package metrics exposes stream runtime counters as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rainout "github.com/rustydaw/rainout"
)

// StatsSource is anything that reports stream counters. *rainout.StreamHandle
// satisfies it.
type StatsSource interface {
	Stats() rainout.StreamStats
}

// StreamCollector reads counters from a StatsSource on every scrape. Reads
// are atomic snapshots on the source side, so scraping never touches the
// realtime thread.
type StreamCollector struct {
	source StatsSource

	cycles      *prometheus.Desc
	frames      *prometheus.Desc
	xruns       *prometheus.Desc
	midiDropped *prometheus.Desc
	msgsDropped *prometheus.Desc
}

var _ prometheus.Collector = (*StreamCollector)(nil)

// NewStreamCollector creates a collector for one stream. The stream label
// distinguishes multiple concurrent streams in one registry.
func NewStreamCollector(stream string, source StatsSource) *StreamCollector {
	labels := prometheus.Labels{"stream": stream}
	return &StreamCollector{
		source: source,
		cycles: prometheus.NewDesc(
			"rainout_cycles_total",
			"Total completed process cycles",
			nil, labels,
		),
		frames: prometheus.NewDesc(
			"rainout_frames_total",
			"Total audio frames processed",
			nil, labels,
		),
		xruns: prometheus.NewDesc(
			"rainout_xruns_total",
			"Total detected realtime overruns",
			nil, labels,
		),
		midiDropped: prometheus.NewDesc(
			"rainout_midi_events_dropped_total",
			"Total MIDI events lost to buffer overflow or failed sends",
			nil, labels,
		),
		msgsDropped: prometheus.NewDesc(
			"rainout_messages_dropped_total",
			"Total stream messages dropped from a full message channel",
			nil, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StreamCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycles
	ch <- c.frames
	ch <- c.xruns
	ch <- c.midiDropped
	ch <- c.msgsDropped
}

// Collect implements prometheus.Collector.
func (c *StreamCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(s.Cycles))
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(s.Frames))
	ch <- prometheus.MustNewConstMetric(c.xruns, prometheus.CounterValue, float64(s.Xruns))
	ch <- prometheus.MustNewConstMetric(c.midiDropped, prometheus.CounterValue, float64(s.MidiEventsDropped))
	ch <- prometheus.MustNewConstMetric(c.msgsDropped, prometheus.CounterValue, float64(s.MsgsDropped))
}

// NewRegistry creates a registry preloaded with process and Go runtime
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
