package qdisc

// dwrr.go implements Deficit Weighted Round Robin across classes, with strict
// priority between levels.  Each priority level keeps a rotation of its
// backlogged classes.  The class at the front sends while its head fits in its
// deficit; otherwise it earns one quantum and moves to the back.  Over time a
// class's share of the bytes is proportional to its quantum.

import (
	"github.com/apex/log"
	"golang.org/x/exp/slices"
)

// DWRRQueueDisc is a deficit round robin scheduler
type DWRRQueueDisc struct {
	classfulBase

	// per priority level, the backlogged classes in rotation order
	rotations map[int][]*classEntry
}

// CreateDWRRQueueDisc is a constructor
func CreateDWRRQueueDisc(name string, sched EventScheduler) *DWRRQueueDisc {
	dwrr := new(DWRRQueueDisc)
	initClassfulBase(&dwrr.classfulBase, name, sched)
	dwrr.requireNet = true
	dwrr.rotations = make(map[int][]*classEntry)
	return dwrr
}

// AddDWRRClass registers a class with its quantum, priority and child discipline
func (dwrr *DWRRQueueDisc) AddDWRRClass(class int, cfg DWRRClassCfg, child QueueDisc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return dwrr.addClass(&classEntry{class: class, priority: cfg.Priority, quantum: cfg.Quantum, child: child})
}

// Deficit returns the current deficit of a class
func (dwrr *DWRRQueueDisc) Deficit(class int) int {
	ce, present := dwrr.classes[class]
	if !present {
		return 0
	}
	return ce.deficit
}

func (dwrr *DWRRQueueDisc) Start() error {
	if err := dwrr.checkClassful(); err != nil {
		return err
	}
	dwrr.started = true
	return nil
}

func (dwrr *DWRRQueueDisc) Dispose() {
	dwrr.disposeChildren()
}

// Enqueue hands the item to its class; a class that was idle joins the back
// of its level's rotation with a fresh quantum of deficit
func (dwrr *DWRRQueueDisc) Enqueue(item QueueItem) bool {
	ce := dwrr.admitToClass(item)
	if ce == nil {
		return false
	}
	if !dwrr.enqueueToChild(ce, item) {
		return false
	}
	if !ce.active {
		ce.active = true
		ce.deficit = ce.quantum
		dwrr.rotations[ce.priority] = append(dwrr.rotations[ce.priority], ce)
	}
	return true
}

// deactivate takes the class at the front of a rotation out of it
func (dwrr *DWRRQueueDisc) deactivate(priority int) {
	rotation := dwrr.rotations[priority]
	ce := rotation[0]
	ce.active = false
	ce.deficit = 0
	dwrr.rotations[priority] = slices.Delete(rotation, 0, 1)
}

// rotate sends the class at the front to the back, with one more quantum
func (dwrr *DWRRQueueDisc) rotate(priority int) {
	rotation := dwrr.rotations[priority]
	ce := rotation[0]
	ce.deficit += ce.quantum
	copy(rotation, rotation[1:])
	rotation[len(rotation)-1] = ce
}

func (dwrr *DWRRQueueDisc) Dequeue() QueueItem {
	priority, found := dwrr.highestActive()
	if !found {
		return nil
	}
	for len(dwrr.rotations[priority]) > 0 {
		ce := dwrr.rotations[priority][0]
		head := ce.child.Peek()
		if head == nil {
			dwrr.logger.WithFields(log.Fields{"qdisc": dwrr.name, "class": ce.class}).Error("active class has nothing to send")
			ce.backlog = 0
			dwrr.deactivate(priority)
			continue
		}
		if head.Size() <= ce.deficit {
			item := dwrr.dequeueFromChild(ce)
			if item == nil {
				dwrr.deactivate(priority)
				continue
			}
			ce.deficit -= item.Size()
			if ce.backlog == 0 {
				dwrr.deactivate(priority)
			}
			return item
		}
		dwrr.rotate(priority)
	}
	return nil
}

// Peek returns the item Dequeue would return.  A class at position i of the
// rotation, whose head is larger than its deficit, needs
// ceil((size-deficit)/quantum) more rounds before it can send; the class
// needing the fewest rounds sends first, ties going to the earlier position
func (dwrr *DWRRQueueDisc) Peek() QueueItem {
	priority, found := dwrr.highestActive()
	if !found {
		return nil
	}
	var best QueueItem
	bestRounds := -1
	for _, ce := range dwrr.rotations[priority] {
		head := ce.child.Peek()
		if head == nil {
			continue
		}
		rounds := 0
		if head.Size() > ce.deficit {
			rounds = (head.Size() - ce.deficit + ce.quantum - 1) / ce.quantum
		}
		if bestRounds < 0 || rounds < bestRounds {
			best, bestRounds = head, rounds
		}
		if rounds == 0 {
			break
		}
	}
	return best
}
