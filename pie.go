package qdisc

// pie.go implements PIE (Proportional Integral controller Enhanced) adapted
// to a data center fabric:
//   - the queue delay is the sojourn time of the packet at the head of the queue,
//     measured directly from its arrival stamp, rather than inferred from the
//     backlog and an estimated dequeue rate
//   - the congestion signal is an ECN mark, never a drop
//   - burst allowance is optional and off by default
//
// The marking probability is recomputed every update period by a callback
// the discipline schedules on itself.  Each enqueue draws against that
// probability to decide whether to mark the arriving packet.

import (
	"github.com/apex/log"
	"github.com/iti/rngstream"
)

// RandSource supplies uniform samples in [0,1).  *rngstream.RngStream satisfies it
type RandSource interface {
	RandU01() float64
}

// burstState is the state of the burst-allowance machine
type burstState int

const (
	noBurst burstState = iota
	inBurstProtecting
	inBurst
)

var burstStateToStr map[burstState]string = map[burstState]string{noBurst: "NO_BURST",
	inBurstProtecting: "IN_BURST_PROTECTING", inBurst: "IN_BURST"}

func (bs burstState) String() string {
	return burstStateToStr[bs]
}

// PIEQueueDisc is a FIFO with a PI controller on the head-of-line sojourn time
type PIEQueueDisc struct {
	qdiscBase
	cfg PIECfg

	markingProb float64 // current marking probability
	qDelay      float64 // latest sampled queue delay
	qDelayOld   float64 // queue delay sampled in the previous update

	// burst allowance
	burstAllowance float64
	burstState     burstState
	burstReset     int

	// dequeue rate measurement, kept for accounting
	inMeasurement bool
	dqStart       float64
	dqCount       int // -1 when no measurement has completed since the last reset
	avgDqRate     float64

	rng         RandSource
	updateEvent *EventHandle
}

// CreatePIEQueueDisc is a constructor.  With a nil random source the discipline draws from
// an rngstream named after it
func CreatePIEQueueDisc(name string, cfg PIECfg, sched EventScheduler, rng RandSource) *PIEQueueDisc {
	pie := new(PIEQueueDisc)
	initQdiscBase(&pie.qdiscBase, name, sched, cfg.Mode, cfg.QueueLimit)
	pie.cfg = cfg
	if rng == nil {
		rng = rngstream.New(name)
	}
	pie.rng = rng
	pie.initializeParams()
	return pie
}

// initializeParams puts the controller in its empty-queue state
func (pie *PIEQueueDisc) initializeParams() {
	pie.inMeasurement = false
	pie.dqCount = -1
	pie.markingProb = 0.0
	pie.avgDqRate = 0.0
	pie.dqStart = 0.0
	pie.burstState = noBurst
	pie.burstAllowance = 0.0
	pie.burstReset = 0
	pie.qDelayOld = 0.0
	pie.qDelay = 0.0
}

// Start checks the structure and schedules the first probability update at UpdateStart
func (pie *PIEQueueDisc) Start() error {
	if len(pie.filters) > 0 {
		return misconfigured("PIE queue disc %s cannot have packet filters", pie.name)
	}
	if err := pie.checkSingleQueue(); err != nil {
		return err
	}
	if pie.sched == nil {
		return misconfigured("PIE queue disc %s needs an event scheduler", pie.name)
	}
	pie.started = true
	// a scheduler starts its children again; one update loop runs at a time
	if pie.updateEvent.Pending() {
		return nil
	}
	pie.updateEvent = pie.sched.ScheduleAfter(pie.cfg.UpdateStart, pie.calculateP)
	return nil
}

// Dispose cancels the pending probability update
func (pie *PIEQueueDisc) Dispose() {
	if pie.updateEvent != nil {
		pie.updateEvent.Cancel()
		pie.updateEvent = nil
	}
}

// MarkingProb returns the current marking probability
func (pie *PIEQueueDisc) MarkingProb() float64 {
	return pie.markingProb
}

// QueueDelay returns the queue delay sampled at the latest update
func (pie *PIEQueueDisc) QueueDelay() float64 {
	return pie.qDelay
}

// AvgDequeueRate returns the averaged dequeue rate in bytes per second, zero if not measured
func (pie *PIEQueueDisc) AvgDequeueRate() float64 {
	return pie.avgDqRate
}

// BurstState names the state of the burst-allowance machine
func (pie *PIEQueueDisc) BurstState() string {
	return pie.burstState.String()
}

// Enqueue admits the item, then decides whether to mark it early
func (pie *PIEQueueDisc) Enqueue(item QueueItem) bool {
	fq := pie.queue()
	nQueued := fq.occupancy(pie.mode)
	if !pie.admits(fq, item) {
		// reactive
		pie.drop(item, NoClass, ErrAdmissionRejected)
		return false
	}

	fq.push(&queuedItem{item: item, arrival: pie.now(), class: NoClass})
	pie.stats.Enqueued += 1

	if pie.markingEarly(item, nQueued) {
		// proactive
		pie.stats.UnforcedDrops += 1
		pie.mark(item, NoClass, 0.0)
	}
	pie.trace("enqueue", item, NoClass, 0.0, nil)
	return true
}

// markingEarly draws against the marking probability. qSize is the backlog
// found by the arriving item, in the units of the mode
func (pie *PIEQueueDisc) markingEarly(item QueueItem, qSize int) bool {
	if pie.cfg.BurstAllowance {
		if pie.burstAllowance > 0.0 {
			// burst allowance left, skip early marking
			return false
		}
		if pie.burstState == noBurst {
			pie.burstState = inBurstProtecting
			pie.burstAllowance = pie.cfg.MaxBurstAllowance
		}
	}

	p := pie.markingProb
	if pie.mode == ByteMode {
		p = p * float64(item.Size()) / float64(pie.cfg.MeanPktSize)
	}
	u := pie.rng.RandU01()

	if pie.qDelayOld < 0.5*pie.cfg.DelayReference && pie.markingProb < 0.2 {
		return false
	} else if pie.mode == ByteMode && qSize <= 2*pie.cfg.MeanPktSize {
		return false
	} else if pie.mode == PacketMode && qSize <= 2 {
		return false
	}

	return u <= p
}

// calculateP is the periodic update of the marking probability.  It
// reschedules itself every UpdatePeriod
func (pie *PIEQueueDisc) calculateP() {
	qDelay := 0.0
	missingInit := false

	qi := pie.queue().head()
	if qi == nil {
		missingInit = true
	} else {
		qDelay = pie.now() - qi.arrival
	}
	pie.qDelay = qDelay
	pie.stats.QueueDelay = qDelay

	ref := pie.cfg.DelayReference
	p := 0.0
	if pie.cfg.BurstAllowance && pie.burstAllowance > 0.0 {
		pie.markingProb = 0.0
	} else {
		// gains are scaled down while the probability is small
		alpha, beta := pie.cfg.Alpha, pie.cfg.Beta
		if pie.markingProb < 0.01 {
			alpha, beta = alpha/8.0, beta/8.0
		} else if pie.markingProb < 0.1 {
			alpha, beta = alpha/2.0, beta/2.0
		}
		p = alpha*(qDelay-ref) + beta*(qDelay-pie.qDelayOld)
	}
	p += pie.markingProb

	// non-linear adjustments
	if qDelay == 0.0 && pie.qDelayOld == 0.0 {
		p *= 0.98
	} else if qDelay > 0.2 {
		p += 0.02
	}
	if p < 0.0 {
		p = 0.0
	}
	pie.markingProb = p

	if pie.cfg.BurstAllowance {
		pie.updateBurstState(qDelay)
	}

	if qDelay < 0.5*ref && pie.qDelayOld < 0.5*ref && pie.markingProb == 0.0 && !missingInit {
		pie.dqCount = -1
		pie.avgDqRate = 0.0
	}
	pie.qDelayOld = qDelay

	pie.logger.WithFields(log.Fields{"qdisc": pie.name, "delay": qDelay, "prob": pie.markingProb}).Debug("pie update")

	pie.updateEvent = pie.sched.ScheduleAfter(pie.cfg.UpdatePeriod, pie.calculateP)
}

// updateBurstState decays the allowance and moves the burst state machine
func (pie *PIEQueueDisc) updateBurstState(qDelay float64) {
	if pie.burstAllowance < pie.cfg.UpdatePeriod {
		pie.burstAllowance = 0.0
	} else {
		pie.burstAllowance -= pie.cfg.UpdatePeriod
	}

	ref := pie.cfg.DelayReference
	burstResetLimit := int(pie.cfg.BurstResetTimeout / pie.cfg.UpdatePeriod)
	if qDelay < 0.5*ref && pie.qDelayOld < 0.5*ref && pie.markingProb == 0.0 && pie.burstAllowance == 0.0 {
		if pie.burstState == inBurstProtecting {
			pie.burstState = inBurst
			pie.burstReset = 0
		} else if pie.burstState == inBurst {
			pie.burstReset += 1
			if pie.burstReset > burstResetLimit {
				pie.burstReset = 0
				pie.burstState = noBurst
			}
		}
	} else if pie.burstState == inBurst {
		pie.burstReset = 0
	}
}

// Dequeue pops the head and feeds the dequeue rate measurement
func (pie *PIEQueueDisc) Dequeue() QueueItem {
	fq := pie.queue()
	qi := fq.pop()
	if qi == nil {
		return nil
	}
	now := pie.now()
	pie.stats.Dequeued += 1
	pie.measureDequeue(qi.item.Size(), fq.bytes(), now)
	pie.trace("dequeue", qi.item, NoClass, now-qi.arrival, nil)
	return qi.item
}

// measureDequeue runs the dequeue rate measurement.  A cycle starts once the
// backlog reaches DequeueThreshold bytes, and ends once that many bytes have left
func (pie *PIEQueueDisc) measureDequeue(pktSize, backlog int, now float64) {
	threshold := pie.cfg.DequeueThreshold
	if backlog >= threshold && !pie.inMeasurement {
		pie.dqStart = now
		pie.dqCount = 0
		pie.inMeasurement = true
	}
	if !pie.inMeasurement {
		return
	}

	pie.dqCount += pktSize
	if pie.dqCount < threshold {
		return
	}

	// done with a measurement cycle
	elapsed := now - pie.dqStart
	if elapsed > 0.0 {
		rate := float64(pie.dqCount) / elapsed
		if pie.avgDqRate == 0.0 {
			pie.avgDqRate = rate
		} else {
			pie.avgDqRate = 0.5*pie.avgDqRate + 0.5*rate
		}
	}

	// restart a measurement cycle if there is enough data
	if backlog > threshold {
		pie.dqStart = now
		pie.dqCount = 0
		pie.inMeasurement = true
	} else {
		pie.dqCount = 0
		pie.inMeasurement = false
	}
}

// Peek returns the head item
func (pie *PIEQueueDisc) Peek() QueueItem {
	qi := pie.queue().head()
	if qi == nil {
		return nil
	}
	return qi.item
}

func (pie *PIEQueueDisc) NPackets() int {
	return pie.queue().nPackets()
}

func (pie *PIEQueueDisc) NBytes() int {
	return pie.queue().bytes()
}
