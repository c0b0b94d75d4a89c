package cache

// linkedListNode is an element of linkedList. Value is exported to the package's cache entries.
type linkedListNode[V any] struct {
	next, prev *linkedListNode[V]
	list       *linkedList[V] // Owning list; nil once removed.
	Value      V
}

// Next returns the next node in the list or nil at the back.
func (n *linkedListNode[V]) Next() *linkedListNode[V] {
	if n.list == nil || n.next == &n.list.root {
		return nil
	}
	return n.next
}

// Prev returns the previous node in the list or nil at the front.
func (n *linkedListNode[V]) Prev() *linkedListNode[V] {
	if n.list == nil || n.prev == &n.list.root {
		return nil
	}
	return n.prev
}

// linkedList is a doubly linked list over a sentinel root; root.next is the front and root.prev the back.
// The zero value is an empty list ready to use.
type linkedList[V any] struct {
	root linkedListNode[V]
	size int
}

// lazyInit wires the sentinel on first use of a zero-valued list.
func (l *linkedList[V]) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

func (l *linkedList[V]) Len() int {
	return l.size
}

// Front returns the first node of the list or nil if the list is empty.
func (l *linkedList[V]) Front() *linkedListNode[V] {
	if l.size == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last node of the list or nil if the list is empty.
func (l *linkedList[V]) Back() *linkedListNode[V] {
	if l.size == 0 {
		return nil
	}
	return l.root.prev
}

// insertAfter links a new node holding `v` right after `at`.
func (l *linkedList[V]) insertAfter(at *linkedListNode[V], v V) *linkedListNode[V] {
	n := &linkedListNode[V]{Value: v, list: l, prev: at, next: at.next}
	at.next.prev = n
	at.next = n
	l.size++
	return n
}

// Remove unlinks a node of this list; nodes of other lists are ignored.
func (l *linkedList[V]) Remove(n *linkedListNode[V]) {
	if n.list != l {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev, n.list = nil, nil, nil
	l.size--
}

func (l *linkedList[V]) PushFront(v V) *linkedListNode[V] {
	l.lazyInit()
	return l.insertAfter(&l.root, v)
}

func (l *linkedList[V]) PushBack(v V) *linkedListNode[V] {
	l.lazyInit()
	return l.insertAfter(l.root.prev, v)
}
