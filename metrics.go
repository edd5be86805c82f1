package zhe

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks operational counters for one Engine instance. All fields
// are safe for concurrent read; per spec.md §5 only the driver loop itself
// ever calls Engine methods, but a Collector may read Metrics from another
// goroutine (e.g. an HTTP scrape handler) concurrently with the loop.
type Metrics struct {
	SamplesPublished   atomic.Uint64 // samples write() packed onto a conduit
	SamplesWritten     atomic.Uint64 // write() calls that returned WriteOK (silent unreliable drops are counted in UnreliableDropped)
	ReliableWriteFull  atomic.Uint64 // write() failures: reliable conduit had no room
	UnreliableDropped  atomic.Uint64 // write() silent drops: unreliable conduit had no room
	NoSubscriberWrites atomic.Uint64 // write() vacuous successes: no remote subscriber

	SamplesDelivered  atomic.Uint64 // inbound SDATA handed to a subscriber callback
	SamplesBackpressure atomic.Uint64 // inbound SDATA dropped for lacking subscriber xmitneed

	ReliableRetransmits atomic.Uint64 // individual samples re-emitted from a transmit window

	AckNackSent     atomic.Uint64
	AckNackReceived atomic.Uint64
	SynchSent       atomic.Uint64
	SynchReceived   atomic.Uint64

	DeclaresSent      atomic.Uint64
	DeclaresReceived  atomic.Uint64
	DCommitsSent      atomic.Uint64
	DResultsReceived  atomic.Uint64
	DResultFailures   atomic.Uint64
	DeclareWindowFull atomic.Uint64 // DCOMMIT deferred: no room for the worst-case DRESULT reply

	SessionsOpened atomic.Uint64
	SessionsClosed atomic.Uint64
	ScoutsSent     atomic.Uint64

	ICGCBAgain   atomic.Uint64
	ICGCBNoSpace atomic.Uint64

	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	BytesSent       atomic.Uint64
	BytesReceived   atomic.Uint64

	startTime atomic.Int64
}

// NewMetrics constructs a zeroed Metrics with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.startTime.Store(time.Now().UnixNano())
	return m
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to retain and
// compare after the live counters have moved on.
type MetricsSnapshot struct {
	SamplesPublished     uint64
	SamplesWritten       uint64
	ReliableWriteFull    uint64
	UnreliableDropped    uint64
	NoSubscriberWrites   uint64
	SamplesDelivered     uint64
	SamplesBackpressure  uint64
	ReliableRetransmits  uint64
	AckNackSent          uint64
	AckNackReceived      uint64
	SynchSent            uint64
	SynchReceived        uint64
	DeclaresSent         uint64
	DeclaresReceived     uint64
	DCommitsSent         uint64
	DResultsReceived     uint64
	DResultFailures      uint64
	DeclareWindowFull    uint64
	SessionsOpened       uint64
	SessionsClosed       uint64
	ScoutsSent           uint64
	ICGCBAgain           uint64
	ICGCBNoSpace         uint64
	PacketsSent          uint64
	PacketsReceived      uint64
	BytesSent            uint64
	BytesReceived        uint64
	UptimeNs             uint64
}

// Snapshot copies every counter's current value.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SamplesPublished:    m.SamplesPublished.Load(),
		SamplesWritten:      m.SamplesWritten.Load(),
		ReliableWriteFull:   m.ReliableWriteFull.Load(),
		UnreliableDropped:   m.UnreliableDropped.Load(),
		NoSubscriberWrites:  m.NoSubscriberWrites.Load(),
		SamplesDelivered:    m.SamplesDelivered.Load(),
		SamplesBackpressure: m.SamplesBackpressure.Load(),
		ReliableRetransmits: m.ReliableRetransmits.Load(),
		AckNackSent:         m.AckNackSent.Load(),
		AckNackReceived:     m.AckNackReceived.Load(),
		SynchSent:           m.SynchSent.Load(),
		SynchReceived:       m.SynchReceived.Load(),
		DeclaresSent:        m.DeclaresSent.Load(),
		DeclaresReceived:    m.DeclaresReceived.Load(),
		DCommitsSent:        m.DCommitsSent.Load(),
		DResultsReceived:    m.DResultsReceived.Load(),
		DResultFailures:     m.DResultFailures.Load(),
		DeclareWindowFull:   m.DeclareWindowFull.Load(),
		SessionsOpened:      m.SessionsOpened.Load(),
		SessionsClosed:      m.SessionsClosed.Load(),
		ScoutsSent:          m.ScoutsSent.Load(),
		ICGCBAgain:          m.ICGCBAgain.Load(),
		ICGCBNoSpace:        m.ICGCBNoSpace.Load(),
		PacketsSent:         m.PacketsSent.Load(),
		PacketsReceived:     m.PacketsReceived.Load(),
		BytesSent:           m.BytesSent.Load(),
		BytesReceived:       m.BytesReceived.Load(),
		UptimeNs:            uint64(time.Now().UnixNano() - m.startTime.Load()),
	}
}

// Reset zeroes every counter and restarts the uptime clock. Intended for
// tests, not production use.
func (m *Metrics) Reset() {
	*m = Metrics{}
	m.startTime.Store(time.Now().UnixNano())
}

// counterDesc pairs a prometheus.Desc with the accessor Collect uses to
// read the current value, mirroring the TCPInfoCollector pattern of a
// declarative info table walked by Describe/Collect.
type counterDesc struct {
	desc  *prometheus.Desc
	value func(*Metrics) uint64
}

// Collector adapts Metrics to prometheus.Collector so an Engine's counters
// can be scraped directly, grounded on the conniver/sockstats exporters'
// TCPInfoCollector shape.
type Collector struct {
	metrics  *Metrics
	counters []counterDesc
}

// NewCollector builds a Collector over m. constLabels are attached to
// every exported metric (e.g. a peer-id or instance label).
func NewCollector(m *Metrics, constLabels prometheus.Labels) *Collector {
	c := &Collector{metrics: m}
	add := func(name, help string, value func(*Metrics) uint64) {
		c.counters = append(c.counters, counterDesc{
			desc:  prometheus.NewDesc("zhe_"+name, help, nil, constLabels),
			value: value,
		})
	}
	add("samples_published_total", "Samples write() packed onto a conduit.", func(m *Metrics) uint64 { return m.SamplesPublished.Load() })
	add("samples_written_total", "write() calls that completed successfully.", func(m *Metrics) uint64 { return m.SamplesWritten.Load() })
	add("reliable_write_full_total", "write() failures due to a full reliable window.", func(m *Metrics) uint64 { return m.ReliableWriteFull.Load() })
	add("unreliable_dropped_total", "Unreliable samples silently dropped (window full).", func(m *Metrics) uint64 { return m.UnreliableDropped.Load() })
	add("no_subscriber_writes_total", "write() calls that vacuously succeeded (no remote subscriber).", func(m *Metrics) uint64 { return m.NoSubscriberWrites.Load() })
	add("samples_delivered_total", "Inbound samples handed to a subscriber handler.", func(m *Metrics) uint64 { return m.SamplesDelivered.Load() })
	add("samples_backpressure_total", "Inbound samples dropped for lacking subscriber xmitneed.", func(m *Metrics) uint64 { return m.SamplesBackpressure.Load() })
	add("reliable_retransmits_total", "Samples re-emitted from a transmit window.", func(m *Metrics) uint64 { return m.ReliableRetransmits.Load() })
	add("acknack_sent_total", "ACKNACK messages emitted.", func(m *Metrics) uint64 { return m.AckNackSent.Load() })
	add("acknack_received_total", "ACKNACK messages received.", func(m *Metrics) uint64 { return m.AckNackReceived.Load() })
	add("synch_sent_total", "SYNCH messages emitted.", func(m *Metrics) uint64 { return m.SynchSent.Load() })
	add("synch_received_total", "SYNCH messages received.", func(m *Metrics) uint64 { return m.SynchReceived.Load() })
	add("declares_sent_total", "DECLARE messages emitted.", func(m *Metrics) uint64 { return m.DeclaresSent.Load() })
	add("declares_received_total", "DECLARE messages received.", func(m *Metrics) uint64 { return m.DeclaresReceived.Load() })
	add("dcommits_sent_total", "DCOMMIT messages emitted.", func(m *Metrics) uint64 { return m.DCommitsSent.Load() })
	add("dresults_received_total", "DRESULT messages received.", func(m *Metrics) uint64 { return m.DResultsReceived.Load() })
	add("dresult_failures_total", "DRESULT messages received with non-zero status.", func(m *Metrics) uint64 { return m.DResultFailures.Load() })
	add("declare_window_full_total", "DCOMMITs deferred for lack of DRESULT-reply room.", func(m *Metrics) uint64 { return m.DeclareWindowFull.Load() })
	add("sessions_opened_total", "Peer sessions reaching OPERATIONAL.", func(m *Metrics) uint64 { return m.SessionsOpened.Load() })
	add("sessions_closed_total", "Peer sessions closed.", func(m *Metrics) uint64 { return m.SessionsClosed.Load() })
	add("scouts_sent_total", "SCOUT messages emitted.", func(m *Metrics) uint64 { return m.ScoutsSent.Load() })
	add("icgcb_again_total", "ICGCB allocations requiring a GC retry.", func(m *Metrics) uint64 { return m.ICGCBAgain.Load() })
	add("icgcb_nospace_total", "ICGCB allocations that failed outright.", func(m *Metrics) uint64 { return m.ICGCBNoSpace.Load() })
	add("packets_sent_total", "Transport packets sent.", func(m *Metrics) uint64 { return m.PacketsSent.Load() })
	add("packets_received_total", "Transport packets received.", func(m *Metrics) uint64 { return m.PacketsReceived.Load() })
	add("bytes_sent_total", "Transport bytes sent.", func(m *Metrics) uint64 { return m.BytesSent.Load() })
	add("bytes_received_total", "Transport bytes received.", func(m *Metrics) uint64 { return m.BytesReceived.Load() })
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.value(c.metrics)))
	}
}

var _ prometheus.Collector = (*Collector)(nil)
