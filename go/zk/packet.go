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
	"time"
)

// packet is the engine's unit of work. It is serialized once at construction
// and finished exactly once, after which replyHeader is authoritative.
type packet struct {
	header   *requestHeader
	req      any
	resp     any
	watchReg *watchRegistration

	// serialized is the full frame (length prefix included), immutable
	// after construction.
	serialized []byte

	replyHeader replyHeader
	err         error

	once     sync.Once
	finished chan struct{}
}

// newPacket serializes header and body into a single contiguous buffer
// prefixed by the total length. A nil header (ConnectRequest) serializes the
// body alone.
func newPacket(scratch []byte, header *requestHeader, req any) (*packet, error) {
	n := 0
	if header != nil {
		n2, err := encodePacket(scratch[4:], header)
		if err != nil {
			return nil, err
		}
		n += n2
	}
	if req != nil {
		n2, err := encodePacket(scratch[4+n:], req)
		if err != nil {
			return nil, err
		}
		n += n2
	}
	putFrameLength(scratch, n)

	p := &packet{
		header:     header,
		req:        req,
		serialized: make([]byte, n+4),
		finished:   make(chan struct{}),
	}
	copy(p.serialized, scratch[:n+4])
	return p, nil
}

func putFrameLength(buf []byte, n int) {
	buf[0] = byte(n >> 24)
	buf[1] = byte(n >> 16)
	buf[2] = byte(n >> 8)
	buf[3] = byte(n)
}

// xid returns the assigned xid, or zero for the header-less ConnectRequest.
func (p *packet) xid() int32 {
	if p.header == nil {
		return 0
	}
	return p.header.Xid
}

// opcode returns the request opcode, or opNotify for the ConnectRequest.
func (p *packet) opcode() int32 {
	if p.header == nil {
		return opNotify
	}
	return p.header.Opcode
}

// finish signals completion. Only the first call takes effect; replyHeader
// and err must not be touched afterwards.
func (p *packet) finish(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.finished)
	})
}

// finishWithCode stamps a terminal server error code and signals completion.
func (p *packet) finishWithCode(code ErrCode, err error) {
	p.once.Do(func() {
		p.replyHeader.Err = code
		p.err = err
		close(p.finished)
	})
}

// waitUntilFinished blocks until the packet is finished or the timeout
// elapses. It reports whether completion was signalled before the deadline.
func (p *packet) waitUntilFinished(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.finished:
		return true
	case <-timer.C:
		return false
	}
}
