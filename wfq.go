package qdisc

// wfq.go implements Weighted Fair Queueing across classes, with strict priority
// between levels.  Each level keeps a virtual time.  A class that becomes
// backlogged gets a head finish time of size/weight past the virtual time; the
// class with the smallest head finish time sends, and its finish time then
// advances by the size of its next item over its weight.  Bytes are shared
// in proportion to the weights.

// WFQQueueDisc is a weighted fair queueing scheduler
type WFQQueueDisc struct {
	classfulBase
	virtualTime map[int]float64 // per priority level
}

// CreateWFQQueueDisc is a constructor
func CreateWFQQueueDisc(name string, sched EventScheduler) *WFQQueueDisc {
	wfq := new(WFQQueueDisc)
	initClassfulBase(&wfq.classfulBase, name, sched)
	wfq.requireNet = true
	wfq.virtualTime = make(map[int]float64)
	return wfq
}

// AddWFQClass registers a class with its weight, priority and child discipline
func (wfq *WFQQueueDisc) AddWFQClass(class int, cfg WFQClassCfg, child QueueDisc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return wfq.addClass(&classEntry{class: class, priority: cfg.Priority, weight: cfg.Weight, child: child})
}

// VirtualTime returns the virtual time of a priority level
func (wfq *WFQQueueDisc) VirtualTime(priority int) float64 {
	return wfq.virtualTime[priority]
}

// HeadFinishTime returns the finish time of the head item of a class
func (wfq *WFQQueueDisc) HeadFinishTime(class int) float64 {
	ce, present := wfq.classes[class]
	if !present {
		return 0.0
	}
	return ce.headFin
}

func (wfq *WFQQueueDisc) Start() error {
	if err := wfq.checkClassful(); err != nil {
		return err
	}
	wfq.started = true
	return nil
}

func (wfq *WFQQueueDisc) Dispose() {
	wfq.disposeChildren()
}

// advance moves the virtual time of a level up to a finish time
func (wfq *WFQQueueDisc) advance(priority int, finish float64) {
	if wfq.virtualTime[priority] < finish {
		wfq.virtualTime[priority] = finish
	}
}

// Enqueue hands the item to its class.  The first item of an idle class sets its head finish time
func (wfq *WFQQueueDisc) Enqueue(item QueueItem) bool {
	ce := wfq.admitToClass(item)
	if ce == nil {
		return false
	}
	wasIdle := ce.backlog == 0
	if !wfq.enqueueToChild(ce, item) {
		return false
	}
	if wasIdle {
		ce.headFin = float64(item.Size())/ce.weight + wfq.virtualTime[ce.priority]
		wfq.advance(ce.priority, ce.headFin)
	}
	return true
}

// selectClass returns the class of smallest head finish time at the highest backlogged
// level, ties going to the lowest class id
func (wfq *WFQQueueDisc) selectClass() *classEntry {
	priority, found := wfq.highestActive()
	if !found {
		return nil
	}
	var selected *classEntry
	for _, ce := range wfq.order {
		if ce.priority != priority || ce.backlog == 0 {
			continue
		}
		if selected == nil || ce.headFin < selected.headFin {
			selected = ce
		}
	}
	return selected
}

func (wfq *WFQQueueDisc) Dequeue() QueueItem {
	ce := wfq.selectClass()
	if ce == nil {
		return nil
	}
	item := wfq.dequeueFromChild(ce)
	if item == nil {
		return nil
	}
	if ce.backlog > 0 {
		if next := ce.child.Peek(); next != nil {
			ce.headFin += float64(next.Size()) / ce.weight
			wfq.advance(ce.priority, ce.headFin)
		}
	}
	return item
}

func (wfq *WFQQueueDisc) Peek() QueueItem {
	ce := wfq.selectClass()
	if ce == nil {
		return nil
	}
	return ce.child.Peek()
}
