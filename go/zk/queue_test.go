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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkPacket(t *testing.T, xid int32) *packet {
	t.Helper()
	scratch := make([]byte, 64)
	p, err := newPacket(scratch, &requestHeader{Xid: xid, Opcode: opPing}, nil)
	require.NoError(t, err)
	return p
}

func TestOutgoingQueueFIFO(t *testing.T) {
	o := newOutgoingQueue()
	for xid := int32(1); xid <= 3; xid++ {
		o.pushBack(mkPacket(t, xid))
	}
	assert.Equal(t, 3, o.len())

	for xid := int32(1); xid <= 3; xid++ {
		p, ok := o.popFront()
		require.True(t, ok)
		assert.Equal(t, xid, p.xid())
	}
	_, ok := o.popFront()
	assert.False(t, ok)
}

func TestOutgoingQueuePushFront(t *testing.T) {
	o := newOutgoingQueue()
	o.pushBack(mkPacket(t, 10))
	o.pushBack(mkPacket(t, 11))

	// Priority replay: auths pushed in reverse, watch reset last, so the
	// transmission order is setWatches, auth1, auth2, then the backlog.
	o.pushFront(mkPacket(t, -4))
	o.pushFront(mkPacket(t, -8))

	var order []int32
	for {
		p, ok := o.popFront()
		if !ok {
			break
		}
		order = append(order, p.xid())
	}
	assert.Equal(t, []int32{-8, -4, 10, 11}, order)
}

func TestOutgoingQueueWake(t *testing.T) {
	o := newOutgoingQueue()
	select {
	case <-o.wake:
		t.Fatal("wake signalled on empty queue")
	default:
	}

	o.pushBack(mkPacket(t, 1))
	select {
	case <-o.wake:
	default:
		t.Fatal("pushBack did not signal wake")
	}

	// Coalescing: many pushes collapse into one pending wakeup.
	o.pushBack(mkPacket(t, 2))
	o.pushBack(mkPacket(t, 3))
	select {
	case <-o.wake:
	default:
		t.Fatal("wake lost")
	}
	select {
	case <-o.wake:
		t.Fatal("wake signalled twice")
	default:
	}
}

func TestOutgoingQueueDrain(t *testing.T) {
	o := newOutgoingQueue()
	for xid := int32(1); xid <= 4; xid++ {
		o.pushBack(mkPacket(t, xid))
	}
	drained := o.drain()
	require.Len(t, drained, 4)
	for i, p := range drained {
		assert.Equal(t, int32(i+1), p.xid())
	}
	assert.Equal(t, 0, o.len())
}

func TestPendingQueueFIFO(t *testing.T) {
	pq := newPendingQueue()
	for xid := int32(1); xid <= 3; xid++ {
		pq.pushBack(mkPacket(t, xid))
	}
	assert.Equal(t, 3, pq.len())

	p, ok := pq.popFront()
	require.True(t, ok)
	assert.Equal(t, int32(1), p.xid())

	drained := pq.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, int32(2), drained[0].xid())
	assert.Equal(t, int32(3), drained[1].xid())

	_, ok = pq.popFront()
	assert.False(t, ok)
}
