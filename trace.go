package qdisc

import (
	"golang.org/x/exp/slices"
)

// QueueTrace records one event in the life of an item inside a queue discipline
type QueueTrace struct {
	Time    float64 `json:"time" yaml:"time"`       // simulation time, seconds
	Op      string  `json:"op" yaml:"op"`           // "enqueue", "dequeue", "drop", "mark", "skip"
	Class   int     `json:"class" yaml:"class"`     // class the item was resolved to, -1 if none
	Size    int     `json:"size" yaml:"size"`       // bytes
	PcktID  int     `json:"pcktid" yaml:"pcktid"`   // packet identifier, when the item is a Packet
	Sojourn float64 `json:"sojourn" yaml:"sojourn"` // time in queue, at dequeue and mark
	Reason  string  `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// TraceManager gathers the traces of a run, per queue discipline.
// All calls come from the one thread of the event manager
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// all trace records for this experiment, keyed by the name of the queue disc
	Traces map[string][]QueueTrace `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the gathering of a trace when we don't want it,
// while keeping calls to its methods everywhere we need them when we do
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.Traces = make(map[string][]QueueTrace)
	return tm
}

// Active tells the caller whether the trace manager is gathering traces
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a record under the name of the queue disc that produced it
func (tm *TraceManager) AddTrace(qdName string, trace QueueTrace) {
	if !tm.InUse {
		return
	}
	tm.Traces[qdName] = append(tm.Traces[qdName], trace)
}

// QdiscNames returns the names of the queue discs that have traces, sorted
func (tm *TraceManager) QdiscNames() []string {
	names := make([]string, 0, len(tm.Traces))
	for name := range tm.Traces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CountOps returns how many records of the named queue disc have the given op
func (tm *TraceManager) CountOps(qdName, op string) int {
	n := 0
	for _, trace := range tm.Traces[qdName] {
		if trace.Op == op {
			n += 1
		}
	}
	return n
}

// WriteToFile stores the traces to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// Nothing is written, and false returned, when the trace manager is not in use
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.InUse {
		return false, nil
	}
	if err := writeDescFile(filename, tm); err != nil {
		return false, err
	}
	return true, nil
}
