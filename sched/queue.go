package sched

import "github.com/tinygo-org/heapscan/work"

// node is one queued packet.
type node struct {
	packet work.Packet
	next   *node
}

// queue is a FIFO container of packets.
// The zero value is an empty queue. It is not safe for concurrent use: the
// scheduler lock guards every queue.
type queue struct {
	head, tail *node
	len        int
}

// push a packet onto the queue.
func (q *queue) push(p work.Packet) {
	n := &node{packet: p}
	if q.tail != nil {
		q.tail.next = n
	}
	q.tail = n
	if q.head == nil {
		q.head = n
	}
	q.len++
}

// pop a packet off of the queue, or return nil if it is empty.
func (q *queue) pop() work.Packet {
	n := q.head
	if n == nil {
		return nil
	}
	q.head = n.next
	if q.tail == n {
		q.tail = nil
	}
	q.len--
	return n.packet
}

// append moves the contents of other onto the end of this queue.
func (q *queue) append(other *queue) {
	if other.head == nil {
		return
	}
	if q.head == nil {
		q.head = other.head
	} else {
		q.tail.next = other.head
	}
	q.tail = other.tail
	q.len += other.len
	other.head, other.tail, other.len = nil, nil, 0
}

func (q *queue) empty() bool {
	return q.head == nil
}
