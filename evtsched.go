package qdisc

// evtsched.go connects queue disciplines to the discrete-event simulator.
// Disciplines never look at wall-clock time: the current time and every
// deferred piece of work (PIE's periodic update, the delay queue's releases)
// come from an EventScheduler.  All callbacks run on the one logical thread
// of the event manager, so discipline state needs no locking.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// EventScheduler is the view of the simulator that a queue discipline needs
type EventScheduler interface {
	// Now returns the current simulation time, in seconds
	Now() float64

	// ScheduleAfter arranges for fn to be called delay seconds from now.
	// Callbacks scheduled for the same time run in the order they were scheduled
	ScheduleAfter(delay float64, fn func()) *EventHandle
}

// EventHandle refers to a callback scheduled through an EventScheduler.
// It is owned by whoever scheduled the callback
type EventHandle struct {
	fn        func()
	fired     bool
	cancelled bool
}

// NewEventHandle wraps a callback; EventScheduler implementations call Fire on it when it comes due
func NewEventHandle(fn func()) *EventHandle {
	return &EventHandle{fn: fn}
}

// Cancel keeps a pending callback from running.  It returns false if the
// callback already ran or was already cancelled
func (eh *EventHandle) Cancel() bool {
	if eh == nil || eh.fired || eh.cancelled {
		return false
	}
	eh.cancelled = true
	eh.fn = nil
	return true
}

// Pending is true while the callback is neither run nor cancelled
func (eh *EventHandle) Pending() bool {
	return eh != nil && !eh.fired && !eh.cancelled
}

// Fire runs the callback unless it has been cancelled
func (eh *EventHandle) Fire() {
	if !eh.Pending() {
		return
	}
	eh.fired = true
	fn := eh.fn
	eh.fn = nil
	fn()
}

// EvtmScheduler implements EventScheduler on an evtm.EventManager
type EvtmScheduler struct {
	evtMgr *evtm.EventManager
}

// CreateEvtmScheduler is a constructor
func CreateEvtmScheduler(evtMgr *evtm.EventManager) *EvtmScheduler {
	return &EvtmScheduler{evtMgr: evtMgr}
}

// EventManager gives access to the underlying event manager
func (es *EvtmScheduler) EventManager() *evtm.EventManager {
	return es.evtMgr
}

// Now returns the event manager's current time in seconds
func (es *EvtmScheduler) Now() float64 {
	return es.evtMgr.CurrentSeconds()
}

// ScheduleAfter schedules fireHandle on the event manager, with the handle as context.
// A cancelled handle stays in the event list and is ignored when it comes due.
// RemoveEvent is not called: evtq v0.1.4 Remove calls Pop while holding the
// queue's mutex, and Pop locks it again
func (es *EvtmScheduler) ScheduleAfter(delay float64, fn func()) *EventHandle {
	eh := NewEventHandle(fn)
	if delay < 0.0 {
		delay = 0.0
	}
	es.evtMgr.Schedule(eh, nil, fireHandle, vrtime.SecondsToTime(delay))
	return eh
}

// fireHandle is the event handler for callbacks scheduled through an EvtmScheduler
func fireHandle(evtMgr *evtm.EventManager, context any, data any) any {
	eh := context.(*EventHandle)
	eh.Fire()
	return nil
}
