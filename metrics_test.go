package zhe

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.SamplesWritten.Add(3)
	m.ReliableRetransmits.Add(2)
	m.SessionsOpened.Add(1)

	snap := m.Snapshot()
	if snap.SamplesWritten != 3 {
		t.Fatalf("SamplesWritten = %d, want 3", snap.SamplesWritten)
	}
	if snap.ReliableRetransmits != 2 {
		t.Fatalf("ReliableRetransmits = %d, want 2", snap.ReliableRetransmits)
	}
	if snap.SessionsOpened != 1 {
		t.Fatalf("SessionsOpened = %d, want 1", snap.SessionsOpened)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.SamplesWritten.Add(5)
	m.Reset()
	if m.Snapshot().SamplesWritten != 0 {
		t.Fatal("expected SamplesWritten cleared after Reset")
	}
}

func TestCollectorExportsCounters(t *testing.T) {
	m := NewMetrics()
	m.SamplesWritten.Add(7)
	m.ReliableRetransmits.Add(4)

	c := NewCollector(m, prometheus.Labels{"instance": "test"})

	count := testutil.CollectAndCount(c)
	if count != len(c.counters) {
		t.Fatalf("CollectAndCount = %d, want %d", count, len(c.counters))
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if got != len(c.counters) {
		t.Fatalf("GatherAndCount = %d, want %d", got, len(c.counters))
	}
}
