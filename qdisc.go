package qdisc

// qdisc.go holds the contract every queue discipline satisfies, and the
// state and accounting shared by all of them: the capacity mode and limit,
// the packet filters, the internal queues of the single-queue disciplines,
// the statistics, and the reporting of drops and marks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
)

// QueueMode selects whether a limit counts packets or bytes
type QueueMode int

const (
	PacketMode QueueMode = iota
	ByteMode
)

func (mode QueueMode) String() string {
	if mode == ByteMode {
		return "bytes"
	}
	return "packets"
}

// queueModeFromStr accepts the names used in configuration files, including the
// QUEUE_MODE_ spelling used by ns-3 scripts
func queueModeFromStr(mode string) (QueueMode, error) {
	switch strings.ToLower(mode) {
	case "packets", "packet", "pkts", "queue_mode_packets", "":
		return PacketMode, nil
	case "bytes", "byte", "queue_mode_bytes":
		return ByteMode, nil
	}
	return PacketMode, fmt.Errorf("%w: unknown queue mode %q", ErrMisconfigured, mode)
}

// MarshalText writes the mode by name in yaml and json descriptions
func (mode QueueMode) MarshalText() ([]byte, error) {
	return []byte(mode.String()), nil
}

// UnmarshalText reads the mode by name
func (mode *QueueMode) UnmarshalText(text []byte) error {
	m, err := queueModeFromStr(string(text))
	if err != nil {
		return err
	}
	*mode = m
	return nil
}

// QueueDisc is the uniform surface of all queue disciplines.  Schedulers hold
// their children through it
type QueueDisc interface {
	// Name identifies the discipline instance in logs, traces and statistics
	Name() string

	// Enqueue offers an item.  False means the item was dropped, and the drop
	// has already been accounted for
	Enqueue(item QueueItem) bool

	// Dequeue removes and returns the next item, nil when nothing can be sent
	Dequeue() QueueItem

	// Peek returns the item Dequeue would return, without removing it
	Peek() QueueItem

	// Classify runs the discipline's packet filters
	Classify(item QueueItem) (int, bool)

	// NPackets and NBytes report the current backlog
	NPackets() int
	NBytes() int

	// Stats returns a copy of the counters
	Stats() Stats

	// Start checks the configuration, activates children and timers
	Start() error

	// Dispose cancels every pending callback the discipline scheduled, and disposes children
	Dispose()
}

// Stats are the counters exposed for monitoring
type Stats struct {
	Enqueued         int     `json:"enqueued" yaml:"enqueued"`
	Dequeued         int     `json:"dequeued" yaml:"dequeued"`
	ForcedDrops      int     `json:"forceddrops" yaml:"forceddrops"`           // admission rejected
	UnforcedDrops    int     `json:"unforceddrops" yaml:"unforceddrops"`       // early (probabilistic) congestion signals
	Marked           int     `json:"marked" yaml:"marked"`                     // packets set to CE
	MarkSkipped      int     `json:"markskipped" yaml:"markskipped"`           // marks not applied, packet not ECT1
	ClassifyFailures int     `json:"classifyfailures" yaml:"classifyfailures"` // dropped, no class
	TypeMismatches   int     `json:"typemismatches" yaml:"typemismatches"`     // dropped, not a network-layer packet
	QueueDelay       float64 `json:"queuedelay" yaml:"queuedelay"`             // latest measured queue delay, seconds
}

// Drops returns the number of items dropped for any reason
func (st Stats) Drops() int {
	return st.ForcedDrops + st.ClassifyFailures + st.TypeMismatches
}

// DropHandler is called for every item a discipline drops
type DropHandler func(qdName string, item QueueItem, reason error)

// qdiscBase is embedded in every discipline
type qdiscBase struct {
	name     string
	sched    EventScheduler
	mode     QueueMode
	limit    int // zero means unlimited
	filters  FilterChain
	internal []*fifo
	stats    Stats
	started  bool

	logger   log.Interface
	traceMgr *TraceManager
	dropHdlr DropHandler
}

func initQdiscBase(qb *qdiscBase, name string, sched EventScheduler, mode QueueMode, limit int) {
	qb.name = name
	qb.sched = sched
	qb.mode = mode
	qb.limit = limit
	qb.filters = make(FilterChain, 0)
	qb.internal = make([]*fifo, 0)
	qb.logger = log.Log
}

// Name returns the instance name
func (qb *qdiscBase) Name() string {
	return qb.name
}

// Mode returns whether the limit counts packets or bytes
func (qb *qdiscBase) Mode() QueueMode {
	return qb.mode
}

// Limit returns the capacity limit, zero if none
func (qb *qdiscBase) Limit() int {
	return qb.limit
}

// Stats returns a copy of the counters
func (qb *qdiscBase) Stats() Stats {
	return qb.stats
}

// Classify runs the packet filters in the order they were added
func (qb *qdiscBase) Classify(item QueueItem) (int, bool) {
	return qb.filters.Classify(item)
}

// AddPacketFilter appends a filter to the classifier chain
func (qb *qdiscBase) AddPacketFilter(filter PacketFilter) error {
	if qb.started {
		return ErrAlreadyStarted
	}
	qb.filters = append(qb.filters, filter)
	return nil
}

// NPacketFilters returns the length of the classifier chain
func (qb *qdiscBase) NPacketFilters() int {
	return len(qb.filters)
}

// AddInternalQueue gives the discipline an internal FIFO.  Single-queue disciplines
// create theirs when none was added, and refuse to start with more than one
func (qb *qdiscBase) AddInternalQueue() error {
	if qb.started {
		return ErrAlreadyStarted
	}
	qb.internal = append(qb.internal, createFifo())
	return nil
}

// NInternalQueues returns the number of internal FIFOs
func (qb *qdiscBase) NInternalQueues() int {
	return len(qb.internal)
}

// SetLogger replaces the default logger
func (qb *qdiscBase) SetLogger(logger log.Interface) {
	qb.logger = logger
}

// SetTraceManager attaches a trace manager recording enqueue, dequeue, drop and mark events
func (qb *qdiscBase) SetTraceManager(tm *TraceManager) {
	qb.traceMgr = tm
}

// SetDropHandler registers a function called on every drop
func (qb *qdiscBase) SetDropHandler(hdlr DropHandler) {
	qb.dropHdlr = hdlr
}

// queue returns the internal FIFO of a single-queue discipline
func (qb *qdiscBase) queue() *fifo {
	if len(qb.internal) == 0 {
		qb.internal = append(qb.internal, createFifo())
	}
	return qb.internal[0]
}

// checkSingleQueue is the structural check of single-queue disciplines
func (qb *qdiscBase) checkSingleQueue() error {
	qb.queue()
	if len(qb.internal) != 1 {
		return misconfigured("%s needs 1 internal queue, has %d", qb.name, len(qb.internal))
	}
	return nil
}

// admits reports whether item fits in fq under the mode and limit
func (qb *qdiscBase) admits(fq *fifo, item QueueItem) bool {
	if qb.limit <= 0 {
		return true
	}
	if qb.mode == ByteMode {
		return fq.bytes()+item.Size() <= qb.limit
	}
	return fq.nPackets()+1 <= qb.limit
}

// now returns the scheduler's time, zero when there is no scheduler
func (qb *qdiscBase) now() float64 {
	if qb.sched == nil {
		return 0.0
	}
	return qb.sched.Now()
}

// drop accounts for an item the discipline will not forward
func (qb *qdiscBase) drop(item QueueItem, class int, reason error) {
	fields := log.Fields{"qdisc": qb.name, "class": class, "size": item.Size()}

	switch {
	case errors.Is(reason, ErrClassificationFailed):
		qb.stats.ClassifyFailures += 1
		qb.logger.WithFields(fields).WithError(reason).Error("cannot find class, dropping the packet")
	case errors.Is(reason, ErrTypeMismatch):
		qb.stats.TypeMismatches += 1
		qb.logger.WithFields(fields).WithError(reason).Error("cannot convert to a network-layer packet, dropping")
	default:
		qb.stats.ForcedDrops += 1
		qb.logger.WithFields(fields).WithError(reason).Debug("drop")
	}

	qb.trace("drop", item, class, 0.0, reason)
	if qb.dropHdlr != nil {
		qb.dropHdlr(qb.name, item, reason)
	}
}

// mark sets CE on an item and accounts for it. A packet that is not ECT1
// is only reported
func (qb *qdiscBase) mark(item QueueItem, class int, sojourn float64) bool {
	err := markCE(item)
	if err != nil {
		qb.stats.MarkSkipped += 1
		qb.logger.WithFields(log.Fields{"qdisc": qb.name, "class": class}).WithError(err).Debug("cannot mark")
		qb.trace("skip", item, class, sojourn, err)
		return false
	}
	qb.stats.Marked += 1
	qb.trace("mark", item, class, sojourn, nil)
	return true
}

// trace records an event with the trace manager, if one is active
func (qb *qdiscBase) trace(op string, item QueueItem, class int, sojourn float64, reason error) {
	if qb.traceMgr == nil || !qb.traceMgr.Active() {
		return
	}
	qt := QueueTrace{Time: qb.now(), Op: op, Class: class, Sojourn: sojourn}
	if item != nil {
		qt.Size = item.Size()
		if pckt, ok := item.(*Packet); ok {
			qt.PcktID = pckt.ID
		}
	}
	if reason != nil {
		qt.Reason = reason.Error()
	}
	qb.traceMgr.AddTrace(qb.name, qt)
}
