package qdisc

// metrics.go exports the counters of a discipline tree to Prometheus.
// The collector reads the statistics when it is scraped, so it must be
// gathered from the thread that runs the simulation

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	enqueuedDesc = prometheus.NewDesc("qdisc_enqueued_packets_total",
		"Items admitted by the queue disc.", []string{"qdisc"}, nil)
	dequeuedDesc = prometheus.NewDesc("qdisc_dequeued_packets_total",
		"Items removed from the queue disc.", []string{"qdisc"}, nil)
	dropsDesc = prometheus.NewDesc("qdisc_drops_total",
		"Items dropped by the queue disc, by reason.", []string{"qdisc", "reason"}, nil)
	marksDesc = prometheus.NewDesc("qdisc_marks_total",
		"Packets set to CE.", []string{"qdisc"}, nil)
	unforcedDesc = prometheus.NewDesc("qdisc_unforced_total",
		"Early congestion signals (PIE).", []string{"qdisc"}, nil)
	markSkippedDesc = prometheus.NewDesc("qdisc_mark_skipped_total",
		"Marks not applied because the packet was not ECT(1).", []string{"qdisc"}, nil)
	backlogPacketsDesc = prometheus.NewDesc("qdisc_backlog_packets",
		"Items currently held.", []string{"qdisc"}, nil)
	backlogBytesDesc = prometheus.NewDesc("qdisc_backlog_bytes",
		"Bytes currently held.", []string{"qdisc"}, nil)
	queueDelayDesc = prometheus.NewDesc("qdisc_queue_delay_seconds",
		"Latest measured queue delay.", []string{"qdisc"}, nil)
)

// StatsCollector is a prometheus.Collector for every discipline of a tree
type StatsCollector struct {
	root QueueDisc
}

// NewStatsCollector is a constructor
func NewStatsCollector(root QueueDisc) *StatsCollector {
	return &StatsCollector{root: root}
}

// Describe implements prometheus.Collector
func (sc *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- enqueuedDesc
	ch <- dequeuedDesc
	ch <- dropsDesc
	ch <- marksDesc
	ch <- unforcedDesc
	ch <- markSkippedDesc
	ch <- backlogPacketsDesc
	ch <- backlogBytesDesc
	ch <- queueDelayDesc
}

// Collect implements prometheus.Collector
func (sc *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	Walk(sc.root, func(qd QueueDisc) {
		name := qd.Name()
		st := qd.Stats()
		ch <- prometheus.MustNewConstMetric(enqueuedDesc, prometheus.CounterValue, float64(st.Enqueued), name)
		ch <- prometheus.MustNewConstMetric(dequeuedDesc, prometheus.CounterValue, float64(st.Dequeued), name)
		ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(st.ForcedDrops), name, "forced")
		ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(st.ClassifyFailures), name, "classify")
		ch <- prometheus.MustNewConstMetric(dropsDesc, prometheus.CounterValue, float64(st.TypeMismatches), name, "type")
		ch <- prometheus.MustNewConstMetric(marksDesc, prometheus.CounterValue, float64(st.Marked), name)
		ch <- prometheus.MustNewConstMetric(unforcedDesc, prometheus.CounterValue, float64(st.UnforcedDrops), name)
		ch <- prometheus.MustNewConstMetric(markSkippedDesc, prometheus.CounterValue, float64(st.MarkSkipped), name)
		ch <- prometheus.MustNewConstMetric(backlogPacketsDesc, prometheus.GaugeValue, float64(qd.NPackets()), name)
		ch <- prometheus.MustNewConstMetric(backlogBytesDesc, prometheus.GaugeValue, float64(qd.NBytes()), name)
		ch <- prometheus.MustNewConstMetric(queueDelayDesc, prometheus.GaugeValue, st.QueueDelay, name)
	})
}
