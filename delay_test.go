package qdisc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDelayQueue(t *testing.T, cal *testCalendar, limit int) *DelayQueueDisc {
	t.Helper()
	dq := CreateDelayQueueDisc("delay", cal, PacketMode, limit)
	require.NoError(t, dq.AddPacketFilter(&TagFilter{}))
	require.NoError(t, dq.AddDelayClass(0, DelayClassCfg{Delay: 0.001}))
	require.NoError(t, dq.AddDelayClass(1, DelayClassCfg{Delay: 0.002}))
	require.NoError(t, dq.Start())
	return dq
}

func taggedPacket(id, size, class int) *Packet {
	pckt := ectPacket(id, size)
	pckt.Class = class
	return pckt
}

func TestDelayQueueReleasesAfterDelay(t *testing.T) {
	cal := newTestCalendar()
	dq := newDelayQueue(t, cal, 0)

	pckt := taggedPacket(1, 1000, 0)
	require.True(t, dq.Enqueue(pckt))
	assert.Equal(t, 1, dq.NPackets())

	cal.runUntil(0.0009)
	assert.Nil(t, dq.Peek(), "invisible before the delay")
	assert.Nil(t, dq.Dequeue())

	cal.runUntil(0.001)
	assert.Same(t, pckt, dq.Peek(), "visible at the delay")
	assert.Same(t, pckt, dq.Dequeue())
	assert.InDelta(t, 0.001, dq.Stats().QueueDelay, 1e-12)
	assert.Equal(t, 0, dq.NPackets())
}

func TestDelayQueueNoLossAndOrder(t *testing.T) {
	cal := newTestCalendar()
	dq := newDelayQueue(t, cal, 0)

	for i := 0; i < 10; i++ {
		require.True(t, dq.Enqueue(taggedPacket(i, 500, i%2)))
		cal.advance(0.00009)
	}
	// the last arrival is well before the first release at 1ms
	assert.Equal(t, 10, dq.NPending())

	cal.runUntil(0.01)
	assert.Equal(t, 0, dq.NPending())
	assert.Equal(t, 10, dq.NReady())

	// class 0 items are released first, each class in arrival order
	ids := make([]int, 0)
	for item := dq.Dequeue(); item != nil; item = dq.Dequeue() {
		ids = append(ids, item.(*Packet).ID)
	}
	assert.Equal(t, []int{0, 2, 4, 6, 8, 1, 3, 5, 7, 9}, ids)
	assert.Equal(t, 0, dq.Stats().Drops())
}

func TestDelayQueueClassificationFailure(t *testing.T) {
	cal := newTestCalendar()
	dq := newDelayQueue(t, cal, 0)

	assert.False(t, dq.Enqueue(taggedPacket(1, 500, 9)))
	assert.False(t, dq.Enqueue(ectPacket(2, 500)))
	assert.Equal(t, 2, dq.Stats().ClassifyFailures)
	assert.Equal(t, 0, dq.NPending())
}

func TestDelayQueueLimit(t *testing.T) {
	cal := newTestCalendar()
	dq := newDelayQueue(t, cal, 2)

	require.True(t, dq.Enqueue(taggedPacket(1, 500, 0)))
	require.True(t, dq.Enqueue(taggedPacket(2, 500, 1)))
	assert.False(t, dq.Enqueue(taggedPacket(3, 500, 0)))
	assert.Equal(t, 1, dq.Stats().ForcedDrops)
}

func TestDelayQueueDisposeCancelsReleases(t *testing.T) {
	cal := newTestCalendar()
	dq := newDelayQueue(t, cal, 0)

	for i := 0; i < 4; i++ {
		require.True(t, dq.Enqueue(taggedPacket(i, 500, i%2)))
	}
	require.Equal(t, 4, cal.nPending())

	dq.Dispose()
	assert.Equal(t, 0, cal.nPending())
	assert.Equal(t, 0, dq.NPending())

	cal.runUntil(1.0)
	assert.Nil(t, dq.Dequeue())
}

func TestDelayQueueConfiguration(t *testing.T) {
	cal := newTestCalendar()
	dq := CreateDelayQueueDisc("delay", cal, PacketMode, 0)
	assert.ErrorIs(t, dq.Start(), ErrMisconfigured)
	assert.ErrorIs(t, dq.AddDelayClass(0, DelayClassCfg{Delay: -1.0}), ErrMisconfigured)
	require.NoError(t, dq.AddDelayClass(0, DelayClassCfg{Delay: 0.5}))
	assert.ErrorIs(t, dq.AddDelayClass(0, DelayClassCfg{Delay: 0.5}), ErrDuplicateClass)

	delay, present := dq.ClassDelay(0)
	assert.True(t, present)
	assert.Equal(t, 0.5, delay)
}
