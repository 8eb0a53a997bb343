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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fcClient := newFrameConn(client, DefaultMaxPacketLength)
	fcServer := newFrameConn(server, DefaultMaxPacketLength)

	payload := []byte("hello zookeeper")
	errCh := make(chan error, 1)
	go func() {
		errCh <- fcClient.writeFrame(payload, time.Second)
	}()

	got, err := fcServer.readFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, <-errCh)
}

func TestFrameEmptyPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go newFrameConn(client, DefaultMaxPacketLength).writeFrame(nil, time.Second)
	got, err := newFrameConn(server, DefaultMaxPacketLength).readFrame(time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFrameRejectsNegativeLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var lbuf [4]byte
		binary.BigEndian.PutUint32(lbuf[:], 0xffffffff) // -1
		client.Write(lbuf[:])
	}()

	_, err := newFrameConn(server, DefaultMaxPacketLength).readFrame(time.Second)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrameRejectsOversizedLength(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	const maxLength = 1024
	go func() {
		var lbuf [4]byte
		binary.BigEndian.PutUint32(lbuf[:], maxLength) // at the bound is rejected too
		client.Write(lbuf[:])
	}()

	_, err := newFrameConn(server, maxLength).readFrame(time.Second)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestFrameReadAcrossPartialWrites(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("split across several socket writes")
	go func() {
		var lbuf [4]byte
		binary.BigEndian.PutUint32(lbuf[:], uint32(len(payload)))
		client.Write(lbuf[:2])
		client.Write(lbuf[2:])
		for i := 0; i < len(payload); i += 7 {
			end := i + 7
			if end > len(payload) {
				end = len(payload)
			}
			client.Write(payload[i:end])
		}
	}()

	got, err := newFrameConn(server, DefaultMaxPacketLength).readFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameReadTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	_, err := newFrameConn(server, DefaultMaxPacketLength).readFrame(10 * time.Millisecond)
	require.Error(t, err)
	nerr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, nerr.Timeout())
}
