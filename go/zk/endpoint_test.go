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

func TestParseConnString(t *testing.T) {
	tests := []struct {
		in      string
		hosts   []string
		ports   []int
		chroot  string
		wantErr bool
	}{
		{in: "10.0.0.1:2181", hosts: []string{"10.0.0.1"}, ports: []int{2181}},
		{in: "h", hosts: []string{"h"}, ports: []int{DefaultPort}},
		{in: "h1:2181,h2:2182,h3", hosts: []string{"h1", "h2", "h3"}, ports: []int{2181, 2182, DefaultPort}},
		{in: "h:2181/app", hosts: []string{"h"}, ports: []int{2181}, chroot: "/app"},
		{in: "h1,h2/app/deep", hosts: []string{"h1", "h2"}, ports: []int{DefaultPort, DefaultPort}, chroot: "/app/deep"},
		{in: "h:2181/", hosts: []string{"h"}, ports: []int{2181}, chroot: ""},
		{in: "", wantErr: true},
		{in: "/app", wantErr: true},
		{in: "h:0", wantErr: true},
		{in: "h:notaport", wantErr: true},
		{in: "h:2181/app//x", wantErr: true},
		{in: "h:2181/app/../x", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			endpoints, chroot, err := parseConnString(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.chroot, chroot)
			require.Len(t, endpoints, len(tc.hosts))
			for i, ep := range endpoints {
				assert.Equal(t, tc.hosts[i], ep.Host)
				assert.Equal(t, tc.ports[i], ep.Port)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	valid := []string{"/", "/a", "/a/b", "/a-b/c_d", "/a.b", "/0"}
	for _, p := range valid {
		assert.NoError(t, validatePath(p, false), "path %q", p)
	}

	invalid := []string{"", "a", "a/b", "/a/", "//", "/a//b", "/.", "/..", "/a/./b", "/a/../b", "/a\x00b", "/a\x01"}
	for _, p := range invalid {
		assert.ErrorIs(t, validatePath(p, false), ErrInvalidPath, "path %q", p)
	}

	// A sequence-node parent may carry a trailing slash.
	assert.NoError(t, validatePath("/a/b-", true))
	assert.NoError(t, validatePath("/a/", true))
}

func TestEndpointSetSweep(t *testing.T) {
	endpoints := []*Endpoint{
		{Host: "h1", Port: 2181},
		{Host: "h2", Port: 2181},
		{Host: "h3", Port: 2181},
	}
	es := newEndpointSet(endpoints)
	require.Equal(t, 3, es.len())

	// A full sweep visits every endpoint exactly once before retryStart.
	seen := make(map[string]int)
	var wrapped bool
	for i := 0; i < 3; i++ {
		ep, retryStart := es.nextCandidate()
		seen[ep.Host]++
		if retryStart {
			wrapped = true
		}
		es.markFailure(ep)
	}
	assert.False(t, wrapped)
	assert.Len(t, seen, 3)

	// The next pick wraps to the sweep start.
	_, retryStart := es.nextCandidate()
	assert.True(t, retryStart)
}

func TestEndpointSetMarkSuccess(t *testing.T) {
	endpoints := []*Endpoint{
		{Host: "h1", Port: 2181},
		{Host: "h2", Port: 2181},
	}
	es := newEndpointSet(endpoints)

	ep, _ := es.nextCandidate()
	es.markFailure(ep)
	assert.EqualValues(t, 1, ep.consecutiveFailures)
	assert.False(t, ep.lastFailureAt.IsZero())

	es.markSuccess(ep)
	assert.EqualValues(t, 0, ep.consecutiveFailures)
	assert.True(t, ep.lastFailureAt.IsZero())

	// After a success the whole sweep must fail again before retryStart.
	_, retryStart := es.nextCandidate()
	assert.False(t, retryStart)
	_, retryStart = es.nextCandidate()
	assert.True(t, retryStart)
}

func TestIsNextAvailable(t *testing.T) {
	endpoints := []*Endpoint{
		{Host: "h1", Port: 2181},
		{Host: "h2", Port: 2181},
	}
	es := newEndpointSet(endpoints)
	assert.True(t, es.isNextAvailable())

	for range endpoints {
		ep, _ := es.nextCandidate()
		es.markFailure(ep)
	}
	assert.False(t, es.isNextAvailable())

	ep, _ := es.nextCandidate()
	es.markSuccess(ep)
	assert.True(t, es.isNextAvailable())
}

func TestEndpointAddr(t *testing.T) {
	ep := &Endpoint{Host: "10.0.0.1", Port: 2181}
	assert.Equal(t, "10.0.0.1:2181", ep.Addr())
}
