package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMonitorSamples(t *testing.T) {
	cal := newTestCalendar()
	leaf := newTCNLeaf("leaf", cal)
	require.NoError(t, leaf.Start())

	qm := CreateQueueMonitor(leaf, cal, 0.001)
	qm.Start()

	// one more packet before each of the samples at 0, 1, 2 and 3 ms
	for i := 0; i < 4; i++ {
		require.True(t, leaf.Enqueue(ectPacket(i, 100)))
		cal.runUntil(float64(i)*0.001 + 0.0005)
	}
	qm.Stop()
	cal.runUntil(0.1)

	require.Len(t, qm.Times, 4)
	assert.Equal(t, []float64{1, 2, 3, 4}, qm.NPackets)
	assert.Equal(t, []float64{100, 200, 300, 400}, qm.NBytes)

	ms := qm.Summary()
	assert.Equal(t, 4, ms.Samples)
	assert.Equal(t, 2.5, ms.MeanPackets)
	assert.InDelta(t, 1.2910, ms.StdPackets, 1e-4)
	assert.Equal(t, 4.0, ms.MaxPackets)
	assert.Equal(t, 250.0, ms.MeanBytes)
	assert.Equal(t, 0.0, ms.MeanDelay)
}

func TestQueueMonitorDelayQuantiles(t *testing.T) {
	qm := CreateQueueMonitor(nil, newTestCalendar(), 1.0)
	for i := 1; i <= 100; i++ {
		qm.Times = append(qm.Times, float64(i))
		qm.NPackets = append(qm.NPackets, 1.0)
		qm.NBytes = append(qm.NBytes, 1.0)
		// out of order on purpose
		qm.Delays = append(qm.Delays, float64(101-i)*1e-3)
	}

	ms := qm.Summary()
	assert.InDelta(t, 0.0505, ms.MeanDelay, 1e-12)
	assert.InDelta(t, 0.050, ms.MedianDelay, 1e-12)
	assert.InDelta(t, 0.099, ms.P99Delay, 1e-12)
	assert.Equal(t, 0.0, ms.StdPackets)
}

func TestQueueMonitorEmptyAndSingle(t *testing.T) {
	qm := CreateQueueMonitor(nil, newTestCalendar(), 1.0)
	assert.Equal(t, MonitorSummary{}, qm.Summary())

	qm.Times = []float64{0.0}
	qm.NPackets = []float64{3.0}
	qm.NBytes = []float64{300.0}
	qm.Delays = []float64{0.01}
	ms := qm.Summary()
	assert.Equal(t, 0.0, ms.StdPackets)
	assert.Equal(t, 0.01, ms.MedianDelay)
}
