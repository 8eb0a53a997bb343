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

package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func countTicks(c <-chan time.Time, window time.Duration) int {
	ticks := 0
	deadline := time.After(window)
	for {
		select {
		case <-c:
			ticks++
		case <-deadline:
			return ticks
		}
	}
}

func TestSuspendableTickerRunning(t *testing.T) {
	s := NewSuspendableTicker(10*time.Millisecond, false)
	defer s.Stop()

	ticks := countTicks(s.C, 100*time.Millisecond)
	assert.Greater(t, ticks, 2)
}

func TestSuspendableTickerInitiallySuspended(t *testing.T) {
	s := NewSuspendableTicker(10*time.Millisecond, true)
	defer s.Stop()

	assert.Zero(t, countTicks(s.C, 50*time.Millisecond))

	s.Resume()
	assert.Greater(t, countTicks(s.C, 100*time.Millisecond), 1)
}

func TestSuspendableTickerSuspend(t *testing.T) {
	s := NewSuspendableTicker(10*time.Millisecond, false)
	defer s.Stop()

	assert.Greater(t, countTicks(s.C, 60*time.Millisecond), 0)

	s.Suspend()
	// Let an in-flight tick settle, then the channel must stay quiet.
	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case <-s.C:
			continue
		default:
		}
		break
	}
	assert.Zero(t, countTicks(s.C, 50*time.Millisecond))
}

func TestSuspendableTickerStop(t *testing.T) {
	s := NewSuspendableTicker(5*time.Millisecond, false)
	s.Stop()
	assert.Zero(t, countTicks(s.C, 30*time.Millisecond))
}
