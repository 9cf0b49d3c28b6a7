package qdisc

// delay.go implements a queue that adds a fixed latency per class.  An arriving
// item waits in the FIFO of its class; a release scheduled delay seconds later
// moves the head of that FIFO into the output queue.  Dequeue and Peek only
// see the output queue, so an item becomes visible exactly delay seconds after
// it arrived.  Items of one class keep their order.

import (
	"github.com/apex/log"
	"golang.org/x/exp/slices"
)

// delayClass is one class of the delay queue
type delayClass struct {
	class int
	delay float64
	queue *fifo
}

// DelayQueueDisc emulates per-class propagation latency
type DelayQueueDisc struct {
	qdiscBase
	classes  map[int]*delayClass
	outQueue *fifo

	// releases not yet run, in the order they were scheduled
	pending []*EventHandle
}

// CreateDelayQueueDisc is a constructor.  A positive limit bounds the items (or bytes)
// held in the class FIFOs and the output queue together
func CreateDelayQueueDisc(name string, sched EventScheduler, mode QueueMode, limit int) *DelayQueueDisc {
	dq := new(DelayQueueDisc)
	initQdiscBase(&dq.qdiscBase, name, sched, mode, limit)
	dq.classes = make(map[int]*delayClass)
	dq.outQueue = createFifo()
	dq.pending = make([]*EventHandle, 0)
	return dq
}

// AddDelayClass registers a class and its latency
func (dq *DelayQueueDisc) AddDelayClass(class int, cfg DelayClassCfg) error {
	if dq.started {
		return ErrAlreadyStarted
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, present := dq.classes[class]; present {
		return ErrDuplicateClass
	}
	dq.classes[class] = &delayClass{class: class, delay: cfg.Delay, queue: createFifo()}
	return nil
}

// ClassDelay returns the latency of a class
func (dq *DelayQueueDisc) ClassDelay(class int) (float64, bool) {
	dc, present := dq.classes[class]
	if !present {
		return 0.0, false
	}
	return dc.delay, true
}

// NPending returns the number of releases not yet run
func (dq *DelayQueueDisc) NPending() int {
	return len(dq.pending)
}

func (dq *DelayQueueDisc) Start() error {
	if len(dq.classes) == 0 {
		return misconfigured("delay queue disc %s has no classes", dq.name)
	}
	if dq.sched == nil {
		return misconfigured("delay queue disc %s needs an event scheduler", dq.name)
	}
	dq.started = true
	return nil
}

// Dispose cancels every release still pending.  Items they would have released stay in their class FIFO
func (dq *DelayQueueDisc) Dispose() {
	for _, eh := range dq.pending {
		eh.Cancel()
	}
	dq.pending = dq.pending[:0]
}

// admitsTotal applies the limit to everything the queue holds
func (dq *DelayQueueDisc) admitsTotal(item QueueItem) bool {
	if dq.limit <= 0 {
		return true
	}
	if dq.mode == ByteMode {
		return dq.NBytes()+item.Size() <= dq.limit
	}
	return dq.NPackets()+1 <= dq.limit
}

// Enqueue classifies the item, holds it in its class FIFO and schedules its release
func (dq *DelayQueueDisc) Enqueue(item QueueItem) bool {
	class, matched := dq.Classify(item)
	if !matched {
		dq.drop(item, NoClass, ErrClassificationFailed)
		return false
	}
	dc, present := dq.classes[class]
	if !present {
		dq.drop(item, class, ErrClassificationFailed)
		return false
	}
	if dq.sched == nil {
		dq.drop(item, class, misconfigured("delay queue disc %s has no event scheduler", dq.name))
		return false
	}
	if !dq.admitsTotal(item) {
		dq.drop(item, class, ErrAdmissionRejected)
		return false
	}

	dc.queue.push(&queuedItem{item: item, arrival: dq.now(), class: class})
	dq.stats.Enqueued += 1
	dq.trace("enqueue", item, class, 0.0, nil)

	var eh *EventHandle
	eh = dq.sched.ScheduleAfter(dc.delay, func() { dq.release(dc, eh) })
	dq.pending = append(dq.pending, eh)
	return true
}

// release moves the head of a class FIFO to the output queue
func (dq *DelayQueueDisc) release(dc *delayClass, eh *EventHandle) {
	if idx := slices.Index(dq.pending, eh); idx >= 0 {
		dq.pending = slices.Delete(dq.pending, idx, idx+1)
	}
	qi := dc.queue.pop()
	if qi == nil {
		dq.logger.WithFields(log.Fields{"qdisc": dq.name, "class": dc.class}).Error("release from an empty class")
		return
	}
	dq.outQueue.push(qi)
}

// Dequeue pops the head of the output queue
func (dq *DelayQueueDisc) Dequeue() QueueItem {
	qi := dq.outQueue.pop()
	if qi == nil {
		return nil
	}
	dq.stats.Dequeued += 1
	sojourn := dq.now() - qi.arrival
	dq.stats.QueueDelay = sojourn
	dq.trace("dequeue", qi.item, qi.class, sojourn, nil)
	return qi.item
}

// Peek returns the head of the output queue
func (dq *DelayQueueDisc) Peek() QueueItem {
	qi := dq.outQueue.head()
	if qi == nil {
		return nil
	}
	return qi.item
}

// NPackets counts items in the class FIFOs and the output queue
func (dq *DelayQueueDisc) NPackets() int {
	n := dq.outQueue.nPackets()
	for _, dc := range dq.classes {
		n += dc.queue.nPackets()
	}
	return n
}

func (dq *DelayQueueDisc) NBytes() int {
	n := dq.outQueue.bytes()
	for _, dc := range dq.classes {
		n += dc.queue.bytes()
	}
	return n
}

// NReady is the number of items released and waiting to be dequeued
func (dq *DelayQueueDisc) NReady() int {
	return dq.outQueue.nPackets()
}
