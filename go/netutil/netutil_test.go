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

package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in       string
		fallback int
		host     string
		port     int
		wantErr  bool
	}{
		{in: "host:2181", fallback: 2181, host: "host", port: 2181},
		{in: "host", fallback: 2181, host: "host", port: 2181},
		{in: "10.0.0.1:1234", fallback: 2181, host: "10.0.0.1", port: 1234},
		{in: "", fallback: 2181, wantErr: true},
		{in: ":2181", fallback: 2181, wantErr: true},
		{in: "host:0", fallback: 2181, wantErr: true},
		{in: "host:-1", fallback: 2181, wantErr: true},
		{in: "host:port", fallback: 2181, wantErr: true},
		{in: "host:65536", fallback: 2181, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			host, port, err := SplitHostPort(tc.in, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.host, host)
			assert.Equal(t, tc.port, port)
		})
	}
}

func TestJoinHostPort(t *testing.T) {
	assert.Equal(t, "host:2181", JoinHostPort("host", 2181))
	assert.Equal(t, "10.0.0.1:1234", JoinHostPort("10.0.0.1", 1234))
}

func TestResolveIPv4Addr(t *testing.T) {
	addr, err := ResolveIPv4Addr("127.0.0.1:2181")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2181", addr)

	addr, err = ResolveIPv4Addr("localhost:2181")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2181", addr)

	_, err = ResolveIPv4Addr("nohostport")
	require.Error(t, err)
}
