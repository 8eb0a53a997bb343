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
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketSerialization(t *testing.T) {
	scratch := make([]byte, 1024)
	p, err := newPacket(scratch, &requestHeader{Xid: 5, Opcode: opGetData}, &getDataRequest{Path: "/a", Watch: true})
	require.NoError(t, err)

	// Length prefix covers header and body.
	total := int(binary.BigEndian.Uint32(p.serialized[:4]))
	assert.Equal(t, len(p.serialized)-4, total)

	var hdr requestHeader
	n, err := decodePacket(p.serialized[4:], &hdr)
	require.NoError(t, err)
	assert.Equal(t, requestHeader{Xid: 5, Opcode: opGetData}, hdr)

	var body getDataRequest
	_, err = decodePacket(p.serialized[4+n:], &body)
	require.NoError(t, err)
	assert.Equal(t, getDataRequest{Path: "/a", Watch: true}, body)

	assert.Equal(t, int32(5), p.xid())
	assert.Equal(t, int32(opGetData), p.opcode())
}

func TestPacketHeaderless(t *testing.T) {
	scratch := make([]byte, 1024)
	p, err := newPacket(scratch, nil, &connectRequest{TimeOut: 30000, Passwd: emptyPassword})
	require.NoError(t, err)

	var req connectRequest
	_, err = decodePacket(p.serialized[4:], &req)
	require.NoError(t, err)
	assert.Equal(t, int32(30000), req.TimeOut)
	assert.Equal(t, int32(0), p.xid())
}

func TestPacketSerializedImmutableFromScratch(t *testing.T) {
	scratch := make([]byte, 1024)
	p, err := newPacket(scratch, &requestHeader{Xid: 1, Opcode: opPing}, nil)
	require.NoError(t, err)
	before := append([]byte(nil), p.serialized...)

	// Reusing the scratch buffer must not change an existing packet.
	_, err = newPacket(scratch, &requestHeader{Xid: 2, Opcode: opGetData}, &getDataRequest{Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, before, p.serialized)
}

func TestPacketFinishExactlyOnce(t *testing.T) {
	scratch := make([]byte, 64)
	p, err := newPacket(scratch, &requestHeader{Xid: 1, Opcode: opPing}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.finishWithCode(errConnectionLoss, ErrConnectionClosed)
		}()
	}
	wg.Wait()

	assert.True(t, p.waitUntilFinished(time.Second))
	assert.ErrorIs(t, p.err, ErrConnectionClosed)
	assert.Equal(t, errConnectionLoss, p.replyHeader.Err)

	// A later finish must not overwrite the terminal error.
	p.finish(nil)
	assert.ErrorIs(t, p.err, ErrConnectionClosed)
}

func TestWaitUntilFinishedTimeout(t *testing.T) {
	scratch := make([]byte, 64)
	p, err := newPacket(scratch, &requestHeader{Xid: 1, Opcode: opPing}, nil)
	require.NoError(t, err)

	start := time.Now()
	assert.False(t, p.waitUntilFinished(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	p.finish(nil)
	assert.True(t, p.waitUntilFinished(time.Second))
}
