package qdisc

// queuedItem is an item held by a fifo, stamped with its arrival time
// and the class it was resolved to
type queuedItem struct {
	item    QueueItem
	arrival float64
	class   int
}

// fifo is the internal queue of the single-queue disciplines, and the
// per-class and output queues of the delay queue.  It keeps packet and
// byte counts so admission checks do not walk the queue
type fifo struct {
	items  []*queuedItem
	nBytes int
}

func createFifo() *fifo {
	return &fifo{items: make([]*queuedItem, 0)}
}

// push appends an item at the tail
func (fq *fifo) push(qi *queuedItem) {
	fq.items = append(fq.items, qi)
	fq.nBytes += qi.item.Size()
}

// pop removes and returns the head, nil when empty
func (fq *fifo) pop() *queuedItem {
	if len(fq.items) == 0 {
		return nil
	}
	qi := fq.items[0]
	fq.items[0] = nil
	fq.items = fq.items[1:]
	fq.nBytes -= qi.item.Size()
	return qi
}

// head returns the item at the head without removing it
func (fq *fifo) head() *queuedItem {
	if len(fq.items) == 0 {
		return nil
	}
	return fq.items[0]
}

func (fq *fifo) nPackets() int {
	return len(fq.items)
}

func (fq *fifo) bytes() int {
	return fq.nBytes
}

func (fq *fifo) empty() bool {
	return len(fq.items) == 0
}

// occupancy returns the number of packets or bytes held, per the mode
func (fq *fifo) occupancy(mode QueueMode) int {
	if mode == ByteMode {
		return fq.nBytes
	}
	return len(fq.items)
}
