package qdisc

import (
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

// QueueMonitor samples the backlog and the measured queue delay of a discipline
// every period, and summarizes the samples
type QueueMonitor struct {
	qd     QueueDisc
	sched  EventScheduler
	period float64
	event  *EventHandle

	Times    []float64 `json:"times" yaml:"times"`
	NPackets []float64 `json:"npackets" yaml:"npackets"`
	NBytes   []float64 `json:"nbytes" yaml:"nbytes"`
	Delays   []float64 `json:"delays" yaml:"delays"`
}

// MonitorSummary holds the statistics of the samples of a QueueMonitor
type MonitorSummary struct {
	Samples     int     `json:"samples" yaml:"samples"`
	MeanPackets float64 `json:"meanpackets" yaml:"meanpackets"`
	StdPackets  float64 `json:"stdpackets" yaml:"stdpackets"`
	MaxPackets  float64 `json:"maxpackets" yaml:"maxpackets"`
	MeanBytes   float64 `json:"meanbytes" yaml:"meanbytes"`
	MeanDelay   float64 `json:"meandelay" yaml:"meandelay"`
	MedianDelay float64 `json:"mediandelay" yaml:"mediandelay"`
	P99Delay    float64 `json:"p99delay" yaml:"p99delay"`
}

// CreateQueueMonitor is a constructor
func CreateQueueMonitor(qd QueueDisc, sched EventScheduler, period float64) *QueueMonitor {
	return &QueueMonitor{qd: qd, sched: sched, period: period,
		Times: make([]float64, 0), NPackets: make([]float64, 0),
		NBytes: make([]float64, 0), Delays: make([]float64, 0)}
}

// Start takes the first sample now
func (qm *QueueMonitor) Start() {
	qm.event = qm.sched.ScheduleAfter(0.0, qm.sample)
}

// Stop cancels the next sample
func (qm *QueueMonitor) Stop() {
	qm.event.Cancel()
}

func (qm *QueueMonitor) sample() {
	qm.Times = append(qm.Times, qm.sched.Now())
	qm.NPackets = append(qm.NPackets, float64(qm.qd.NPackets()))
	qm.NBytes = append(qm.NBytes, float64(qm.qd.NBytes()))
	qm.Delays = append(qm.Delays, qm.qd.Stats().QueueDelay)
	qm.event = qm.sched.ScheduleAfter(qm.period, qm.sample)
}

// Summary computes the statistics of the samples taken so far
func (qm *QueueMonitor) Summary() MonitorSummary {
	ms := MonitorSummary{Samples: len(qm.Times)}
	if ms.Samples == 0 {
		return ms
	}
	ms.MeanPackets, ms.StdPackets = stat.MeanStdDev(qm.NPackets, nil)
	if ms.Samples == 1 {
		ms.StdPackets = 0.0
	}
	ms.MaxPackets = slices.Max(qm.NPackets)
	ms.MeanBytes = stat.Mean(qm.NBytes, nil)
	ms.MeanDelay = stat.Mean(qm.Delays, nil)

	// quantiles need sorted data
	sorted := slices.Clone(qm.Delays)
	slices.Sort(sorted)
	ms.MedianDelay = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	ms.P99Delay = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return ms
}
