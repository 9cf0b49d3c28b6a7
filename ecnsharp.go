package qdisc

// ecnsharp.go implements ECN#, which combines two marking criteria on the
// sojourn time of the packet being dequeued:
//   - instantaneous: the sojourn time is above a threshold, reacting to bursts
//   - persistent: the sojourn time has stayed above a target for longer than an
//     interval.  While this holds, marks are spaced by interval/sqrt(count),
//     the CoDel control law, so the marking rate rises until the standing
//     queue drains.
// A packet is marked if either criterion asks for it.

import (
	"math"
)

// ECNSharpQueueDisc is a FIFO with instantaneous and persistent sojourn-time marking
type ECNSharpQueueDisc struct {
	qdiscBase

	instantThreshold   float64
	persistentInterval float64
	persistentTarget   float64

	firstAboveTime float64 // zero when the sojourn time is below target
	marking        bool    // in the persistent marking state
	markNext       float64 // earliest time of the next persistent mark
	markCount      int     // persistent marks since entering the marking state
}

// CreateECNSharpQueueDisc is a constructor
func CreateECNSharpQueueDisc(name string, cfg ECNSharpCfg, sched EventScheduler) *ECNSharpQueueDisc {
	es := new(ECNSharpQueueDisc)
	initQdiscBase(&es.qdiscBase, name, sched, cfg.Mode, cfg.Limit)
	es.instantThreshold = cfg.InstantaneousThreshold
	es.persistentInterval = cfg.PersistentInterval
	es.persistentTarget = cfg.PersistentTarget
	return es
}

// Start runs the structural check
func (es *ECNSharpQueueDisc) Start() error {
	if err := es.checkSingleQueue(); err != nil {
		return err
	}
	es.started = true
	return nil
}

// Dispose has nothing to cancel
func (es *ECNSharpQueueDisc) Dispose() {}

// Marking reports whether the persistent criterion is in its marking state
func (es *ECNSharpQueueDisc) Marking() bool {
	return es.marking
}

// MarkCount is the number of persistent marks in the current marking state
func (es *ECNSharpQueueDisc) MarkCount() int {
	return es.markCount
}

// MarkNext is the earliest time of the next persistent mark
func (es *ECNSharpQueueDisc) MarkNext() float64 {
	return es.markNext
}

// Enqueue stamps and appends the item if it fits
func (es *ECNSharpQueueDisc) Enqueue(item QueueItem) bool {
	fq := es.queue()
	if !es.admits(fq, item) {
		es.drop(item, NoClass, ErrAdmissionRejected)
		return false
	}
	fq.push(&queuedItem{item: item, arrival: es.now(), class: NoClass})
	es.stats.Enqueued += 1
	es.trace("enqueue", item, NoClass, 0.0, nil)
	return true
}

// Dequeue pops the head and applies both marking criteria
func (es *ECNSharpQueueDisc) Dequeue() QueueItem {
	qi := es.queue().pop()
	if qi == nil {
		return nil
	}
	now := es.now()
	sojourn := now - qi.arrival
	es.stats.QueueDelay = sojourn
	es.stats.Dequeued += 1

	instantMarking := sojourn > es.instantThreshold
	persistentMarking := false

	okToMark := es.okToMark(sojourn, now)
	if es.marking {
		if !okToMark {
			es.marking = false
		} else if now >= es.markNext {
			es.markCount += 1
			es.markNext = now + es.controlLaw()
			persistentMarking = true
		}
	} else if okToMark {
		es.marking = true
		es.markCount = 1
		es.markNext = now + es.persistentInterval
		persistentMarking = true
	}

	if instantMarking || persistentMarking {
		// a packet that is not ECN capable is forwarded unmarked, never dropped
		es.mark(qi.item, NoClass, sojourn)
	}
	es.trace("dequeue", qi.item, NoClass, sojourn, nil)
	return qi.item
}

// okToMark tracks how long the sojourn time has been at or above target, and
// says whether that has lasted longer than the persistent interval
func (es *ECNSharpQueueDisc) okToMark(sojourn, now float64) bool {
	if sojourn < es.persistentTarget {
		es.firstAboveTime = 0.0
		return false
	}
	if es.firstAboveTime == 0.0 {
		es.firstAboveTime = now + es.persistentInterval
	} else if now > es.firstAboveTime {
		return true
	}
	return false
}

// controlLaw gives the spacing to the next persistent mark
func (es *ECNSharpQueueDisc) controlLaw() float64 {
	return es.persistentInterval / math.Sqrt(float64(es.markCount))
}

// Peek returns the head item
func (es *ECNSharpQueueDisc) Peek() QueueItem {
	qi := es.queue().head()
	if qi == nil {
		return nil
	}
	return qi.item
}

func (es *ECNSharpQueueDisc) NPackets() int {
	return es.queue().nPackets()
}

func (es *ECNSharpQueueDisc) NBytes() int {
	return es.queue().bytes()
}
