package qdisc

// classful.go holds what the multi-class schedulers (SP, DWRR, WFQ) share: a set of
// classes, each owning one child discipline, the classification of arriving
// items to a class, and the per-class byte backlog that says which classes
// are active.  The schedulers differ only in how they choose the class to
// dequeue from.

import (
	"cmp"

	"github.com/apex/log"
	"golang.org/x/exp/slices"
)

// classEntry is one class of a scheduler
type classEntry struct {
	class    int
	priority int
	quantum  int     // DWRR
	weight   float64 // WFQ
	child    QueueDisc

	backlog int     // bytes held by the child, as seen by the scheduler
	active  bool    // in the rotation of its priority level (DWRR, WFQ)
	deficit int     // DWRR
	headFin float64 // WFQ finish time of the head item
}

// classfulBase is embedded in the schedulers
type classfulBase struct {
	qdiscBase
	classes map[int]*classEntry

	// classes ordered by decreasing priority, then increasing class id
	order []*classEntry

	// requireNet makes the scheduler drop items that are not network-layer packets
	requireNet bool
}

func initClassfulBase(cb *classfulBase, name string, sched EventScheduler) {
	initQdiscBase(&cb.qdiscBase, name, sched, PacketMode, 0)
	cb.classes = make(map[int]*classEntry)
	cb.order = make([]*classEntry, 0)
}

// addClass registers a class.  The child is owned by the scheduler from then on
func (cb *classfulBase) addClass(ce *classEntry) error {
	if cb.started {
		return ErrAlreadyStarted
	}
	if ce.child == nil {
		return misconfigured("class %d of %s has no child queue disc", ce.class, cb.name)
	}
	if _, isDelay := ce.child.(*DelayQueueDisc); isDelay {
		return misconfigured("delay queue disc %s cannot be the child of class %d of %s",
			ce.child.Name(), ce.class, cb.name)
	}
	if _, present := cb.classes[ce.class]; present {
		return ErrDuplicateClass
	}
	cb.classes[ce.class] = ce
	cb.order = append(cb.order, ce)
	slices.SortFunc(cb.order, func(a, b *classEntry) int {
		if a.priority != b.priority {
			return cmp.Compare(b.priority, a.priority)
		}
		return cmp.Compare(a.class, b.class)
	})
	return nil
}

// NClasses returns the number of registered classes
func (cb *classfulBase) NClasses() int {
	return len(cb.classes)
}

// ClassIDs returns the registered class ids in increasing order
func (cb *classfulBase) ClassIDs() []int {
	ids := make([]int, 0, len(cb.classes))
	for id := range cb.classes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Child returns the child discipline of a class
func (cb *classfulBase) Child(class int) (QueueDisc, bool) {
	ce, present := cb.classes[class]
	if !present {
		return nil, false
	}
	return ce.child, true
}

// ClassBacklog returns the bytes held by a class, as accounted by the scheduler
func (cb *classfulBase) ClassBacklog(class int) int {
	ce, present := cb.classes[class]
	if !present {
		return 0
	}
	return ce.backlog
}

// checkClassful is the structural check of the schedulers, followed by starting the children
func (cb *classfulBase) checkClassful() error {
	if len(cb.classes) == 0 {
		return misconfigured("%s has no classes", cb.name)
	}
	if len(cb.internal) > 0 {
		return misconfigured("%s cannot have internal queues", cb.name)
	}
	errs := make([]error, 0)
	for _, ce := range cb.order {
		errs = append(errs, ce.child.Start())
	}
	if err := ReportErrs(errs); err != nil {
		return misconfigured("children of %s: %v", cb.name, err)
	}
	return nil
}

// disposeChildren disposes every child
func (cb *classfulBase) disposeChildren() {
	for _, ce := range cb.order {
		ce.child.Dispose()
	}
}

// admitToClass runs the checks every scheduler makes before handing an item to a
// child: the item type and size, and a registered class for it.  On failure the item
// has been dropped and nil is returned
func (cb *classfulBase) admitToClass(item QueueItem) *classEntry {
	// the class backlog is in bytes, an empty item would never be served
	if item.Size() <= 0 {
		cb.drop(item, NoClass, ErrEmptyItem)
		return nil
	}
	if cb.requireNet {
		if _, ok := item.(NetItem); !ok {
			cb.drop(item, NoClass, ErrTypeMismatch)
			return nil
		}
	}
	class, matched := cb.Classify(item)
	if !matched {
		cb.drop(item, NoClass, ErrClassificationFailed)
		return nil
	}
	ce, present := cb.classes[class]
	if !present {
		cb.drop(item, class, ErrClassificationFailed)
		return nil
	}
	return ce
}

// enqueueToChild hands the item to the child of the class, and accounts for it.
// A refusal has been accounted for by the child
func (cb *classfulBase) enqueueToChild(ce *classEntry, item QueueItem) bool {
	if !ce.child.Enqueue(item) {
		cb.logger.WithFields(log.Fields{"qdisc": cb.name, "class": ce.class}).Debug("child refused item")
		return false
	}
	ce.backlog += item.Size()
	cb.stats.Enqueued += 1
	cb.trace("enqueue", item, ce.class, 0.0, nil)
	return true
}

// dequeueFromChild removes the head item of a class, keeping the backlog in step
func (cb *classfulBase) dequeueFromChild(ce *classEntry) QueueItem {
	item := ce.child.Dequeue()
	if item == nil {
		cb.logger.WithFields(log.Fields{"qdisc": cb.name, "class": ce.class}).Error("cannot dequeue from a backlogged child")
		ce.backlog = 0
		return nil
	}
	ce.backlog -= item.Size()
	if ce.backlog < 0 {
		ce.backlog = 0
	}
	cb.stats.Dequeued += 1
	cb.trace("dequeue", item, ce.class, 0.0, nil)
	return item
}

// highestActive returns the highest priority among classes with backlog
func (cb *classfulBase) highestActive() (int, bool) {
	for _, ce := range cb.order {
		if ce.backlog > 0 {
			return ce.priority, true
		}
	}
	return 0, false
}

func (cb *classfulBase) NPackets() int {
	n := 0
	for _, ce := range cb.order {
		n += ce.child.NPackets()
	}
	return n
}

func (cb *classfulBase) NBytes() int {
	n := 0
	for _, ce := range cb.order {
		n += ce.child.NBytes()
	}
	return n
}
