/*
Copyright 2024 The ZKWire Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package zk

import (
	"sync"

	"github.com/gammazero/deque"
)

// outgoingQueue holds packets awaiting transmission. API callers push to the
// back; only the handshake driver may push to the front, for the priority
// replay. The sender loop is the sole consumer.
type outgoingQueue struct {
	mu sync.Mutex
	q  deque.Deque[*packet]

	// wake is signalled on every pushBack/pushFront and on any transition
	// to NotConnected so the sender loop never sleeps through work.
	wake chan struct{}
}

func newOutgoingQueue() *outgoingQueue {
	return &outgoingQueue{wake: make(chan struct{}, 1)}
}

func (o *outgoingQueue) pushBack(p *packet) {
	o.mu.Lock()
	o.q.PushBack(p)
	o.mu.Unlock()
	o.signal()
}

// pushFront inserts a priority packet at the head. Handshake replay only.
func (o *outgoingQueue) pushFront(p *packet) {
	o.mu.Lock()
	o.q.PushFront(p)
	o.mu.Unlock()
	o.signal()
}

func (o *outgoingQueue) popFront() (*packet, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.q.Len() == 0 {
		return nil, false
	}
	return o.q.PopFront(), true
}

func (o *outgoingQueue) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.q.Len()
}

// drain removes and returns every queued packet, oldest first.
func (o *outgoingQueue) drain() []*packet {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*packet, 0, o.q.Len())
	for o.q.Len() > 0 {
		out = append(out, o.q.PopFront())
	}
	return out
}

// signal wakes the sender loop without blocking; a pending wakeup absorbs
// further signals.
func (o *outgoingQueue) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// pendingQueue holds packets already transmitted and awaiting a reply, in
// transmission order. The sender loop is the sole producer and the receiver
// loop the sole consumer.
type pendingQueue struct {
	mu sync.Mutex
	q  deque.Deque[*packet]
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

func (pq *pendingQueue) pushBack(p *packet) {
	pq.mu.Lock()
	pq.q.PushBack(p)
	pq.mu.Unlock()
}

func (pq *pendingQueue) popFront() (*packet, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.q.Len() == 0 {
		return nil, false
	}
	return pq.q.PopFront(), true
}

func (pq *pendingQueue) len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.q.Len()
}

func (pq *pendingQueue) drain() []*packet {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	out := make([]*packet, 0, pq.q.Len())
	for pq.q.Len() > 0 {
		out = append(out, pq.q.PopFront())
	}
	return out
}
