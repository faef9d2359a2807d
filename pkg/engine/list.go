package engine

import "sync"

type listNode struct {
	order *Order
	prev  *listNode
	next  *listNode
}

// ConcurrentOrderList is a mutex-guarded doubly linked list of orders scanned
// with cursors. Every operation holds the list lock for its duration only and
// never performs I/O under it.
//
// A scan pass is ResetPointer followed by GetNext until it returns nil. Each
// Scanner created by NewScanner owns an independent cursor; ResetPointer and
// GetNext drive the list's default cursor.
type ConcurrentOrderList struct {
	mu       sync.Mutex
	head     *listNode
	tail     *listNode
	index    map[string]*listNode
	cursors  map[*Scanner]struct{}
	fallback *Scanner
}

// NewConcurrentOrderList creates an empty list.
func NewConcurrentOrderList() *ConcurrentOrderList {
	l := &ConcurrentOrderList{
		index:   make(map[string]*listNode),
		cursors: make(map[*Scanner]struct{}),
	}
	l.fallback = &Scanner{list: l}
	l.cursors[l.fallback] = struct{}{}
	return l
}

// AddItem appends the order at the tail. Adding an id already present is a no-op.
func (l *ConcurrentOrderList) AddItem(order *Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[order.ID]; ok {
		return
	}
	node := &listNode{order: order}
	l.index[order.ID] = node

	if l.head == nil {
		l.head = node
		l.tail = node
		for c := range l.cursors {
			c.node = node
		}
		return
	}
	node.prev = l.tail
	l.tail.next = node
	l.tail = node
}

// RemoveItem removes the order with the id wherever it is and reports whether
// anything was removed. Cursors on the removed node move to its successor.
func (l *ConcurrentOrderList) RemoveItem(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	node, ok := l.index[orderID]
	if !ok {
		return false
	}
	delete(l.index, orderID)

	for c := range l.cursors {
		if c.node == node {
			c.node = node.next
		}
	}

	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev, node.next = nil, nil

	if l.head == nil {
		l.tail = nil
		for c := range l.cursors {
			c.node = nil
		}
	}
	return true
}

// ResetPointer starts a new pass of the default cursor at the head.
func (l *ConcurrentOrderList) ResetPointer() {
	l.fallback.Reset()
}

// GetNext returns the order under the default cursor and advances it, or nil
// once the pass is past the tail.
func (l *ConcurrentOrderList) GetNext() *Order {
	return l.fallback.Next()
}

// NewScanner registers an independent cursor positioned at the head.
func (l *ConcurrentOrderList) NewScanner() *Scanner {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &Scanner{list: l, node: l.head}
	l.cursors[s] = struct{}{}
	return s
}

// Size returns the number of orders in the list.
func (l *ConcurrentOrderList) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.index)
}

// Contains reports whether the order with the id is in the list.
func (l *ConcurrentOrderList) Contains(orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[orderID]
	return ok
}

// Snapshot returns the ids in list order.
func (l *ConcurrentOrderList) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.index))
	for n := l.head; n != nil; n = n.next {
		ids = append(ids, n.order.ID)
	}
	return ids
}

// Orders returns the orders in list order.
func (l *ConcurrentOrderList) Orders() []*Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders := make([]*Order, 0, len(l.index))
	for n := l.head; n != nil; n = n.next {
		orders = append(orders, n.order)
	}
	return orders
}

// Scanner is a cursor over a ConcurrentOrderList. A removal performed by any
// goroutine never makes a scanner skip or repeat an unrelated order.
type Scanner struct {
	list   *ConcurrentOrderList
	node   *listNode
	closed bool
}

// Reset moves the cursor to the head.
func (s *Scanner) Reset() {
	s.list.mu.Lock()
	defer s.list.mu.Unlock()
	if s.closed {
		return
	}
	s.node = s.list.head
}

// Next returns the order under the cursor and advances, or nil past the tail.
func (s *Scanner) Next() *Order {
	s.list.mu.Lock()
	defer s.list.mu.Unlock()

	if s.node == nil {
		return nil
	}
	order := s.node.order
	s.node = s.node.next
	return order
}

// Close unregisters the cursor from its list.
func (s *Scanner) Close() {
	s.list.mu.Lock()
	defer s.list.mu.Unlock()
	delete(s.list.cursors, s)
	s.node = nil
	s.closed = true
}
