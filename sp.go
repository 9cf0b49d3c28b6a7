package qdisc

// SPQueueDisc is a strict priority scheduler.  Dequeue always serves the
// backlogged class of highest priority, so lower classes can starve
type SPQueueDisc struct {
	classfulBase
}

// CreateSPQueueDisc is a constructor
func CreateSPQueueDisc(name string, sched EventScheduler) *SPQueueDisc {
	sp := new(SPQueueDisc)
	initClassfulBase(&sp.classfulBase, name, sched)
	sp.requireNet = true
	return sp
}

// AddSPClass registers a class with its child discipline
func (sp *SPQueueDisc) AddSPClass(class int, cfg SPClassCfg, child QueueDisc) error {
	return sp.addClass(&classEntry{class: class, priority: cfg.Priority, child: child})
}

// Start checks that priorities are distinct, then starts the children
func (sp *SPQueueDisc) Start() error {
	seen := make(map[int]int)
	for _, ce := range sp.order {
		if other, present := seen[ce.priority]; present {
			return misconfigured("classes %d and %d of %s share priority %d", other, ce.class, sp.name, ce.priority)
		}
		seen[ce.priority] = ce.class
	}
	if err := sp.checkClassful(); err != nil {
		return err
	}
	sp.started = true
	return nil
}

func (sp *SPQueueDisc) Dispose() {
	sp.disposeChildren()
}

// Enqueue classifies the item and hands it to the child of its class
func (sp *SPQueueDisc) Enqueue(item QueueItem) bool {
	ce := sp.admitToClass(item)
	if ce == nil {
		return false
	}
	return sp.enqueueToChild(ce, item)
}

// selectClass returns the backlogged class of highest priority
func (sp *SPQueueDisc) selectClass() *classEntry {
	for _, ce := range sp.order {
		if ce.backlog > 0 {
			return ce
		}
	}
	return nil
}

func (sp *SPQueueDisc) Dequeue() QueueItem {
	ce := sp.selectClass()
	if ce == nil {
		return nil
	}
	return sp.dequeueFromChild(ce)
}

func (sp *SPQueueDisc) Peek() QueueItem {
	ce := sp.selectClass()
	if ce == nil {
		return nil
	}
	return ce.child.Peek()
}
