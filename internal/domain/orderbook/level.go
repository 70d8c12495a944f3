package orderbook

// handle addresses a node in the arena. The zero handle means "none".
// A handle stays valid until its own node is released, whatever happens
// to other nodes of the same level.
type handle uint32

type node struct {
	id   uint64
	size uint32
	prev handle
	next handle
}

// arena is the node pool shared by every level of a book.
// Pointers returned by at are only valid until the next alloc.
type arena struct {
	nodes []node
	free  []handle
}

func newArena(capacity int) arena {
	return arena{nodes: make([]node, 1, capacity+1)}
}

func (a *arena) alloc(id uint64, size uint32) handle {
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.nodes[h] = node{id: id, size: size}
		return h
	}
	a.nodes = append(a.nodes, node{id: id, size: size})
	return handle(len(a.nodes) - 1)
}

func (a *arena) release(h handle) {
	a.nodes[h] = node{}
	a.free = append(a.free, h)
}

func (a *arena) at(h handle) *node {
	return &a.nodes[h]
}

func (a *arena) reset() {
	a.nodes = a.nodes[:1]
	a.nodes[0] = node{}
	a.free = a.free[:0]
}

// level is one price slot on one side: a FIFO of resident orders,
// oldest first, with its aggregate size.
type level struct {
	head  handle
	tail  handle
	count int
	total uint64
}

func (l *level) empty() bool {
	return l.head == 0
}

// pushBack appends h at the lowest priority position.
func (l *level) pushBack(a *arena, h handle) {
	n := a.at(h)
	n.next = 0
	n.prev = l.tail
	if l.tail != 0 {
		a.at(l.tail).next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.count++
	l.total += uint64(n.size)
}

// remove unlinks h and subtracts its size from the level.
func (l *level) remove(a *arena, h handle) {
	n := a.at(h)
	if n.prev != 0 {
		a.at(n.prev).next = n.next
	} else {
		l.head = n.next
	}
	if n.next != 0 {
		a.at(n.next).prev = n.prev
	} else {
		l.tail = n.prev
	}
	l.count--
	l.total -= uint64(n.size)
	n.prev, n.next = 0, 0
}

// moveToBack forfeits the queue position of h; totals are unchanged.
func (l *level) moveToBack(a *arena, h handle) {
	if l.tail == h {
		return
	}
	l.remove(a, h)
	l.pushBack(a, h)
}

// resize sets the resident size of h in place, keeping its position.
func (l *level) resize(a *arena, h handle, size uint32) {
	n := a.at(h)
	l.total = l.total - uint64(n.size) + uint64(size)
	n.size = size
}
