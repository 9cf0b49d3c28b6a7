package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIENoEarlyMarksAtLowDelay(t *testing.T) {
	cal := newTestCalendar()
	// a draw of zero would mark at any probability the checks let through
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, fixedRand(0.0))
	require.NoError(t, pie.Start())

	for i := 0; i < 20; i++ {
		require.True(t, pie.Enqueue(ectPacket(i, 1000)))
	}
	assert.Equal(t, 0, pie.Stats().Marked)
	assert.Equal(t, 0, pie.Stats().UnforcedDrops)
	assert.Equal(t, 0.0, pie.MarkingProb())
}

func TestPIEProbabilityRisesWithStandingQueue(t *testing.T) {
	cal := newTestCalendar()
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, fixedRand(0.0))
	require.NoError(t, pie.Start())

	for i := 0; i < 5; i++ {
		require.True(t, pie.Enqueue(ectPacket(i, 1000)))
	}

	// the first update sees a zero delay
	cal.runUntil(0.0)
	assert.Equal(t, 0.0, pie.MarkingProb())

	cal.runUntil(0.1)
	assert.Greater(t, pie.MarkingProb(), 0.0)
	assert.InDelta(t, 0.09, pie.QueueDelay(), 1e-9)

	// past 200ms of delay the probability climbs by at least 0.02 per update
	cal.runUntil(1.0)
	require.Greater(t, pie.MarkingProb(), 0.2)

	marked := ectPacket(100, 1000)
	require.True(t, pie.Enqueue(marked))
	assert.Equal(t, CE, marked.ECN())
	assert.Equal(t, 1, pie.Stats().UnforcedDrops)
	assert.Equal(t, 1, pie.Stats().Marked)

	// an early signal on a packet that is not ECT(1) is counted, the packet is untouched
	plain := CreatePacket(101, 1000, NotECT)
	require.True(t, pie.Enqueue(plain))
	assert.Equal(t, NotECT, plain.ECN())
	assert.Equal(t, 2, pie.Stats().UnforcedDrops)
	assert.Equal(t, 1, pie.Stats().MarkSkipped)
}

func TestPIEProbabilityDecaysWhenIdle(t *testing.T) {
	cal := newTestCalendar()
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, fixedRand(0.5))
	require.NoError(t, pie.Start())

	for i := 0; i < 5; i++ {
		require.True(t, pie.Enqueue(ectPacket(i, 1000)))
	}
	cal.runUntil(0.5)
	high := pie.MarkingProb()
	require.Greater(t, high, 0.0)

	for pie.NPackets() > 0 {
		pie.Dequeue()
	}
	cal.runUntil(3.0)
	assert.Less(t, pie.MarkingProb(), high)
	assert.Equal(t, 0.0, pie.QueueDelay())
}

func TestPIEForcedDrop(t *testing.T) {
	cal := newTestCalendar()
	cfg := DefaultPIECfg()
	cfg.QueueLimit = 3
	pie := CreatePIEQueueDisc("pie", cfg, cal, fixedRand(0.9))
	require.NoError(t, pie.Start())

	for i := 0; i < 3; i++ {
		require.True(t, pie.Enqueue(ectPacket(i, 1000)))
	}
	assert.False(t, pie.Enqueue(ectPacket(3, 1000)))
	assert.Equal(t, 1, pie.Stats().ForcedDrops)
	assert.Equal(t, 3, pie.NPackets())

	peeked := pie.Peek()
	assert.Same(t, peeked, pie.Dequeue())
}

func TestPIEDequeueRateMeasurement(t *testing.T) {
	cal := newTestCalendar()
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, fixedRand(0.9))

	for i := 0; i < 20; i++ {
		require.True(t, pie.Enqueue(ectPacket(i, 1000)))
	}
	assert.Equal(t, 0.0, pie.AvgDequeueRate())

	// the window opens at the first dequeue, with 19000 bytes left,
	// and closes once 10000 bytes have left
	for i := 1; i <= 10; i++ {
		cal.runUntil(float64(i) * 0.001)
		require.NotNil(t, pie.Dequeue())
	}
	assert.InEpsilon(t, 10000.0/0.009, pie.AvgDequeueRate(), 1e-6)
}

func TestPIEBurstAllowance(t *testing.T) {
	cal := newTestCalendar()
	cfg := DefaultPIECfg()
	cfg.BurstAllowance = true
	pie := CreatePIEQueueDisc("pie", cfg, cal, fixedRand(0.0))
	require.NoError(t, pie.Start())
	assert.Equal(t, "NO_BURST", pie.BurstState())

	require.True(t, pie.Enqueue(ectPacket(1, 1000)))
	assert.Equal(t, "IN_BURST_PROTECTING", pie.BurstState())
	require.NotNil(t, pie.Dequeue())

	// the allowance of 100ms runs out in four updates of 30ms
	cal.runUntil(0.2)
	assert.Equal(t, "IN_BURST", pie.BurstState())
	assert.Equal(t, 0.0, pie.MarkingProb())

	// and more than 1.5s/30ms quiet updates end the burst
	cal.runUntil(1.0)
	assert.Equal(t, "IN_BURST", pie.BurstState())
	cal.runUntil(2.0)
	assert.Equal(t, "NO_BURST", pie.BurstState())
}

func TestPIEBurstAllowanceSuppressesMarking(t *testing.T) {
	cal := newTestCalendar()
	cfg := DefaultPIECfg()
	cfg.BurstAllowance = true
	pie := CreatePIEQueueDisc("pie", cfg, cal, fixedRand(0.0))
	require.NoError(t, pie.Start())

	// the first arrival grants the allowance
	require.True(t, pie.Enqueue(ectPacket(0, 1000)))
	require.InDelta(t, cfg.MaxBurstAllowance, pie.burstAllowance, 1e-12)

	// a high probability and a standing delay would mark every arrival
	pie.markingProb = 0.5
	pie.qDelayOld = cfg.DelayReference
	for i := 1; i <= 5; i++ {
		pckt := ectPacket(i, 1000)
		require.True(t, pie.Enqueue(pckt))
		assert.Equal(t, ECT1, pckt.ECN())
	}
	assert.Equal(t, 0, pie.Stats().UnforcedDrops)
	assert.Equal(t, 0, pie.Stats().Marked)

	// once the allowance is spent they are
	pie.burstAllowance = 0.0
	pckt := ectPacket(6, 1000)
	require.True(t, pie.Enqueue(pckt))
	assert.Equal(t, CE, pckt.ECN())
	assert.Equal(t, 1, pie.Stats().UnforcedDrops)
}

func TestPIERestartKeepsOneUpdateLoop(t *testing.T) {
	cal := newTestCalendar()
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, nil)
	require.NoError(t, pie.Start())
	require.NoError(t, pie.Start())
	assert.Equal(t, 1, cal.nPending())

	// a scheduler starts its children once more
	sp := CreateSPQueueDisc("sp", cal)
	require.NoError(t, sp.AddPacketFilter(&ConstFilter{Class: 0}))
	require.NoError(t, sp.AddSPClass(0, SPClassCfg{Priority: 1}, pie))
	require.NoError(t, sp.Start())
	cal.runUntil(0.1)
	assert.Equal(t, 1, cal.nPending())

	sp.Dispose()
	assert.Equal(t, 0, cal.nPending())
	require.NoError(t, pie.Start())
	assert.Equal(t, 1, cal.nPending(), "started again after teardown")
}

func TestPIEDisposeCancelsUpdate(t *testing.T) {
	cal := newTestCalendar()
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), cal, nil)
	require.NoError(t, pie.Start())
	cal.runUntil(0.1)
	require.Equal(t, 1, cal.nPending())

	pie.Dispose()
	assert.Equal(t, 0, cal.nPending())
}

func TestPIEStructuralCheck(t *testing.T) {
	pie := CreatePIEQueueDisc("pie", DefaultPIECfg(), newTestCalendar(), nil)
	require.NoError(t, pie.AddPacketFilter(&ConstFilter{Class: 1}))
	assert.ErrorIs(t, pie.Start(), ErrMisconfigured)

	pie = CreatePIEQueueDisc("pie", DefaultPIECfg(), nil, nil)
	assert.ErrorIs(t, pie.Start(), ErrMisconfigured)
}

func TestPIECfgValidate(t *testing.T) {
	assert.NoError(t, DefaultPIECfg().Validate())
	cfg := DefaultPIECfg()
	cfg.UpdatePeriod = 0.0
	cfg.MeanPktSize = 0
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrMisconfigured)
	assert.Contains(t, err.Error(), "update period")
	assert.Contains(t, err.Error(), "mean packet size")
}
