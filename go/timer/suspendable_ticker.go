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

// Package timer provides ticker utilities for the connection engine.
package timer

import (
	"sync/atomic"
	"time"
)

// SuspendableTicker is similar to time.Ticker, but also offers Suspend() and
// Resume() functions. While the ticker is suspended, nothing comes from the
// time channel C.
type SuspendableTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	// C is user facing
	C chan time.Time

	suspended atomic.Bool
}

// NewSuspendableTicker creates a new suspendable ticker, indicating whether
// the ticker should start suspended or running.
func NewSuspendableTicker(d time.Duration, initiallySuspended bool) *SuspendableTicker {
	s := &SuspendableTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
		C:      make(chan time.Time),
	}
	if initiallySuspended {
		s.suspended.Store(true)
	}
	go s.loop()
	return s
}

// Suspend stops sending time events on the channel C.
// Time events sent during suspended time are lost.
func (s *SuspendableTicker) Suspend() {
	s.suspended.Store(true)
}

// Resume re-enables time events on channel C.
func (s *SuspendableTicker) Resume() {
	s.suspended.Store(false)
}

// Reset restarts the tick interval. Ticks accumulated before the reset are
// discarded along with any suspended ticks.
func (s *SuspendableTicker) Reset(d time.Duration) {
	s.ticker.Reset(d)
}

// Stop completely stops the timer, like time.Timer.
func (s *SuspendableTicker) Stop() {
	s.ticker.Stop()
	close(s.done)
}

func (s *SuspendableTicker) loop() {
	for {
		select {
		case <-s.done:
			return
		case t := <-s.ticker.C:
			if s.suspended.Load() {
				continue
			}
			select {
			case s.C <- t:
			case <-s.done:
				return
			default:
				// skip the tick if the consumer is busy
			}
		}
	}
}
