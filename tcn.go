package qdisc

// tcn.go implements TCN, instantaneous threshold marking on sojourn time.
// Each packet is stamped when it is enqueued; at dequeue, a packet that spent
// longer than the threshold in the queue is marked CE.  No state is carried
// from one packet to the next

// TCNQueueDisc is a FIFO that marks on the sojourn time of each packet
type TCNQueueDisc struct {
	qdiscBase
	threshold float64
}

// CreateTCNQueueDisc is a constructor.  The configuration is validated by the caller
// (see TCNCfg.Validate)
func CreateTCNQueueDisc(name string, cfg TCNCfg, sched EventScheduler) *TCNQueueDisc {
	tcn := new(TCNQueueDisc)
	initQdiscBase(&tcn.qdiscBase, name, sched, cfg.Mode, cfg.Limit)
	tcn.threshold = cfg.Threshold
	return tcn
}

// Threshold returns the sojourn time above which packets are marked
func (tcn *TCNQueueDisc) Threshold() float64 {
	return tcn.threshold
}

// Start runs the structural check
func (tcn *TCNQueueDisc) Start() error {
	if err := tcn.checkSingleQueue(); err != nil {
		return err
	}
	tcn.started = true
	return nil
}

// Dispose has nothing to cancel, TCN schedules no callbacks
func (tcn *TCNQueueDisc) Dispose() {}

// Enqueue stamps and appends the item if it fits
func (tcn *TCNQueueDisc) Enqueue(item QueueItem) bool {
	fq := tcn.queue()
	if !tcn.admits(fq, item) {
		tcn.drop(item, NoClass, ErrAdmissionRejected)
		return false
	}
	fq.push(&queuedItem{item: item, arrival: tcn.now(), class: NoClass})
	tcn.stats.Enqueued += 1
	tcn.trace("enqueue", item, NoClass, 0.0, nil)
	return true
}

// Dequeue pops the head and marks it if its sojourn time exceeds the threshold
func (tcn *TCNQueueDisc) Dequeue() QueueItem {
	qi := tcn.queue().pop()
	if qi == nil {
		return nil
	}
	sojourn := tcn.now() - qi.arrival
	tcn.stats.QueueDelay = sojourn
	tcn.stats.Dequeued += 1

	// strictly above
	if sojourn > tcn.threshold {
		tcn.mark(qi.item, NoClass, sojourn)
	}
	tcn.trace("dequeue", qi.item, NoClass, sojourn, nil)
	return qi.item
}

// Peek returns the head item
func (tcn *TCNQueueDisc) Peek() QueueItem {
	qi := tcn.queue().head()
	if qi == nil {
		return nil
	}
	return qi.item
}

func (tcn *TCNQueueDisc) NPackets() int {
	return tcn.queue().nPackets()
}

func (tcn *TCNQueueDisc) NBytes() int {
	return tcn.queue().bytes()
}
