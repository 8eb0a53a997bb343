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
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"zkwire.dev/zkwire/go/netutil"
)

// Endpoint is one resolved server address with its failure bookkeeping.
type Endpoint struct {
	Host string
	Port int

	consecutiveFailures uint32
	lastFailureAt       time.Time
}

// Addr returns the dialable host:port form.
func (e *Endpoint) Addr() string {
	return netutil.JoinHostPort(e.Host, e.Port)
}

// endpointSet holds the shuffled server list and a round-robin cursor. Each
// sweep visits every endpoint at most once; the caller sleeps between sweeps.
type endpointSet struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	curr      int
	last      int
}

// parseConnString parses `host[:port](,host[:port])*[/chroot]`, applying
// DefaultPort where no port is given. The chroot, when present, is validated
// as a path.
func parseConnString(s string) ([]*Endpoint, string, error) {
	addrs := s
	chroot := ""
	if i := strings.Index(s, "/"); i >= 0 {
		addrs, chroot = s[:i], s[i:]
		if chroot == "/" {
			chroot = ""
		} else if err := validatePath(chroot, false); err != nil {
			return nil, "", fmt.Errorf("%w: chroot %q: %v", ErrInvalidAddr, chroot, err)
		}
	}
	if addrs == "" {
		return nil, "", fmt.Errorf("%w: empty server list", ErrInvalidAddr)
	}

	var endpoints []*Endpoint
	for _, addr := range strings.Split(addrs, ",") {
		host, port, err := netutil.SplitHostPort(addr, DefaultPort)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidAddr, err)
		}
		endpoints = append(endpoints, &Endpoint{Host: host, Port: port})
	}
	return endpoints, chroot, nil
}

// newEndpointSet shuffles the endpoints once so a fleet of clients does not
// converge on the first server in everyone's connection string.
func newEndpointSet(endpoints []*Endpoint) *endpointSet {
	shuffled := make([]*Endpoint, len(endpoints))
	copy(shuffled, endpoints)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return &endpointSet{
		endpoints: shuffled,
		curr:      -1,
		last:      -1,
	}
}

// nextCandidate advances the cursor and returns the endpoint to try.
// retryStart reports that the cursor has come back to the sweep anchor (the
// endpoint of the last markSuccess, or the first endpoint before any
// success), so every endpoint has been visited once since then. It does not
// say whether those visits failed; isNextAvailable tells that.
func (es *endpointSet) nextCandidate() (ep *Endpoint, retryStart bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.curr = (es.curr + 1) % len(es.endpoints)
	retryStart = es.curr == es.last
	if es.last == -1 {
		es.last = 0
	}
	return es.endpoints[es.curr], retryStart
}

// isNextAvailable reports whether some endpoint has not failed since the last
// success.
func (es *endpointSet) isNextAvailable() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, ep := range es.endpoints {
		if ep.consecutiveFailures == 0 {
			return true
		}
	}
	return false
}

func (es *endpointSet) markFailure(ep *Endpoint) {
	es.mu.Lock()
	defer es.mu.Unlock()
	ep.consecutiveFailures++
	ep.lastFailureAt = time.Now()
}

// markSuccess resets the endpoint's failure count and anchors the sweep so
// retryStart fires only after a full unsuccessful loop from here.
func (es *endpointSet) markSuccess(ep *Endpoint) {
	es.mu.Lock()
	defer es.mu.Unlock()
	ep.consecutiveFailures = 0
	ep.lastFailureAt = time.Time{}
	es.last = es.curr
}

func (es *endpointSet) len() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.endpoints)
}

// validatePath checks a znode path against the server's rules: it must be
// absolute, with no empty, "." or ".." components, no trailing slash, and no
// null or reserved characters. isSequential permits the trailing slash a
// sequence-node parent path carries.
func validatePath(path string, isSequential bool) error {
	if path == "" || path[0] != '/' {
		return ErrInvalidPath
	}
	if path == "/" {
		return nil
	}
	if !isSequential && path[len(path)-1] == '/' {
		return ErrInvalidPath
	}

	for _, component := range strings.Split(strings.TrimSuffix(path[1:], "/"), "/") {
		if component == "" || component == "." || component == ".." {
			return ErrInvalidPath
		}
	}
	for _, r := range path {
		switch {
		case r == 0:
			return ErrInvalidPath
		case r > 0 && r <= 0x1f, r >= 0x7f && r <= 0x9f:
			return ErrInvalidPath
		case r >= 0xd800 && r <= 0xf8ff, r >= 0xfff0 && r <= 0xffff:
			return ErrInvalidPath
		}
	}
	return nil
}
