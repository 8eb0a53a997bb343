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
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// frameConn reads and writes length-prefixed frames on a net.Conn. The wire
// format is a 4-byte big-endian signed length followed by exactly that many
// payload bytes. Writes are serialized so a frame is never interleaved with
// another writer's.
type frameConn struct {
	conn      net.Conn
	maxLength int

	wmu  sync.Mutex
	lbuf [4]byte
}

func newFrameConn(conn net.Conn, maxLength int) *frameConn {
	return &frameConn{conn: conn, maxLength: maxLength}
}

// readFrame reads one frame within the deadline and returns its payload. A
// declared length < 0 or >= maxLength is a framing violation and poisons the
// stream.
func (fc *frameConn) readFrame(deadline time.Duration) ([]byte, error) {
	if err := fc.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}
	var lbuf [4]byte
	if _, err := io.ReadFull(fc.conn, lbuf[:]); err != nil {
		return nil, err
	}
	blen := int(int32(binary.BigEndian.Uint32(lbuf[:])))
	if blen < 0 || blen >= fc.maxLength {
		return nil, fmt.Errorf("%w: declared length %d (max %d)", ErrMalformedFrame, blen, fc.maxLength)
	}
	buf := make([]byte, blen)
	if _, err := io.ReadFull(fc.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeFrame prefixes payload with its length and writes both within the
// deadline.
func (fc *frameConn) writeFrame(payload []byte, deadline time.Duration) error {
	fc.wmu.Lock()
	defer fc.wmu.Unlock()

	if err := fc.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(fc.lbuf[:], uint32(len(payload)))
	if _, err := fc.conn.Write(fc.lbuf[:]); err != nil {
		return err
	}
	_, err := fc.conn.Write(payload)
	return err
}

// writeRaw writes an already length-prefixed buffer within the deadline.
func (fc *frameConn) writeRaw(buf []byte, deadline time.Duration) error {
	fc.wmu.Lock()
	defer fc.wmu.Unlock()

	if err := fc.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
		return err
	}
	_, err := fc.conn.Write(buf)
	return err
}

func (fc *frameConn) Close() error {
	return fc.conn.Close()
}
