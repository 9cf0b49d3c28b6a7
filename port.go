package qdisc

// port.go models the egress port a queue discipline sits in front of.  The
// port transmits one item at a time at the link bandwidth; when a
// transmission completes it asks the root discipline for the next item.
// A discipline with backlog that has nothing ready (a delay queue waiting
// for a release) is polled again after PollInterval.

import (
	"github.com/apex/log"
)

// ReceiveFunc is handed every item once it has been transmitted
type ReceiveFunc func(item QueueItem, time float64)

// EgressPort drains a root discipline at a fixed bandwidth
type EgressPort struct {
	Name         string
	Bandwidth    float64 // bits per second
	PollInterval float64 // seconds between dequeue attempts while the root has nothing ready

	root    QueueDisc
	sched   EventScheduler
	receive ReceiveFunc
	logger  log.Interface

	busy      bool
	txEvent   *EventHandle
	busyTime  float64 // seconds spent transmitting
	delivered int
	dlvdBytes int
}

// CreateEgressPort is a constructor.  receive may be nil
func CreateEgressPort(name string, bandwidth float64, root QueueDisc, sched EventScheduler, receive ReceiveFunc) *EgressPort {
	ep := &EgressPort{Name: name, Bandwidth: bandwidth, PollInterval: 1e-6,
		root: root, sched: sched, receive: receive, logger: log.Log}
	return ep
}

// SetLogger replaces the default logger
func (ep *EgressPort) SetLogger(logger log.Interface) {
	ep.logger = logger
}

// Root returns the discipline the port drains
func (ep *EgressPort) Root() QueueDisc {
	return ep.root
}

// Send offers an item to the root discipline, and starts a transmission if the port is idle
func (ep *EgressPort) Send(item QueueItem) bool {
	accepted := ep.root.Enqueue(item)
	if !ep.busy {
		ep.transmitNext()
	}
	return accepted
}

// SendPacket has the signature of a PacketSink
func (ep *EgressPort) SendPacket(pckt *Packet) bool {
	return ep.Send(pckt)
}

// transmitNext starts transmitting the next item of the root discipline
func (ep *EgressPort) transmitNext() {
	item := ep.root.Dequeue()
	if item == nil {
		ep.busy = false
		if ep.root.NPackets() > 0 {
			// backlogged but nothing ready yet
			ep.busy = true
			ep.txEvent = ep.sched.ScheduleAfter(ep.PollInterval, ep.poll)
		}
		return
	}
	ep.busy = true
	txTime := float64(item.Size()*8) / ep.Bandwidth
	ep.busyTime += txTime
	ep.txEvent = ep.sched.ScheduleAfter(txTime, func() { ep.complete(item) })
}

func (ep *EgressPort) poll() {
	ep.transmitNext()
}

// complete delivers a transmitted item and moves on to the next one
func (ep *EgressPort) complete(item QueueItem) {
	ep.delivered += 1
	ep.dlvdBytes += item.Size()
	if ep.receive != nil {
		ep.receive(item, ep.sched.Now())
	}
	ep.transmitNext()
}

// Busy reports whether a transmission (or a poll) is pending
func (ep *EgressPort) Busy() bool {
	return ep.busy
}

// Delivered returns the number of items and bytes transmitted
func (ep *EgressPort) Delivered() (int, int) {
	return ep.delivered, ep.dlvdBytes
}

// Utilization returns the fraction of the elapsed time spent transmitting
func (ep *EgressPort) Utilization() float64 {
	now := ep.sched.Now()
	if now <= 0.0 {
		return 0.0
	}
	u := ep.busyTime / now
	if u > 1.0 {
		u = 1.0
	}
	return u
}

// Dispose cancels the pending transmission and disposes the root discipline
func (ep *EgressPort) Dispose() {
	if ep.txEvent.Cancel() {
		ep.logger.WithField("port", ep.Name).Debug("transmission cancelled")
	}
	ep.busy = false
	ep.root.Dispose()
}
