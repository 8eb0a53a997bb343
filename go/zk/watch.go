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

import "sync"

type watchType int

const (
	watchTypeData watchType = iota
	watchTypeExist
	watchTypeChild
)

type watchPathType struct {
	path  string
	wType watchType
}

// watchRegistration is carried by a packet and installed by the receiver
// loop once the server has armed the watch, so registration and reply stay
// ordered.
type watchRegistration struct {
	path  string
	wType watchType
	ch    chan Event
}

// watchRegistry tracks armed one-shot watches by client path. It produces
// the pending-watch snapshot replayed at handshake time and routes incoming
// notifications to their waiters.
type watchRegistry struct {
	mu       sync.Mutex
	watchers map[watchPathType][]chan Event
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{watchers: make(map[watchPathType][]chan Event)}
}

func (wr *watchRegistry) register(reg *watchRegistration) {
	key := watchPathType{path: reg.path, wType: reg.wType}
	wr.mu.Lock()
	wr.watchers[key] = append(wr.watchers[key], reg.ch)
	wr.mu.Unlock()
}

// snapshot builds the SetWatches body for the given zxid, or nil when no
// watches are registered.
func (wr *watchRegistry) snapshot(lastZxid int64) *setWatchesRequest {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if len(wr.watchers) == 0 {
		return nil
	}
	req := &setWatchesRequest{
		RelativeZxid: lastZxid,
		DataWatches:  []string{},
		ExistWatches: []string{},
		ChildWatches: []string{},
	}
	for key := range wr.watchers {
		switch key.wType {
		case watchTypeData:
			req.DataWatches = append(req.DataWatches, key.path)
		case watchTypeExist:
			req.ExistWatches = append(req.ExistWatches, key.path)
		case watchTypeChild:
			req.ChildWatches = append(req.ChildWatches, key.path)
		}
	}
	return req
}

// typesForEvent maps a notification type to the watch kinds it fires.
func typesForEvent(t EventType) []watchType {
	switch t {
	case EventNodeCreated:
		return []watchType{watchTypeExist}
	case EventNodeDeleted:
		return []watchType{watchTypeData, watchTypeExist, watchTypeChild}
	case EventNodeDataChanged:
		return []watchType{watchTypeData, watchTypeExist}
	case EventNodeChildrenChanged:
		return []watchType{watchTypeChild}
	}
	return nil
}

// dispatch fires the one-shot watchers interested in ev and removes them.
func (wr *watchRegistry) dispatch(ev Event) {
	var targets []chan Event
	wr.mu.Lock()
	for _, wType := range typesForEvent(ev.Type) {
		key := watchPathType{path: ev.Path, wType: wType}
		if chans, ok := wr.watchers[key]; ok {
			targets = append(targets, chans...)
			delete(wr.watchers, key)
		}
	}
	wr.mu.Unlock()

	for _, ch := range targets {
		ch <- ev
		close(ch)
	}
}

// closeAll delivers a final session event to every watcher and clears the
// registry. Used when the session reaches a terminal state.
func (wr *watchRegistry) closeAll(state State, err error) {
	wr.mu.Lock()
	watchers := wr.watchers
	wr.watchers = make(map[watchPathType][]chan Event)
	wr.mu.Unlock()

	for key, chans := range watchers {
		ev := Event{Type: EventSession, State: state, Path: key.path, Err: err}
		for _, ch := range chans {
			ch <- ev
			close(ch)
		}
	}
}

func (wr *watchRegistry) count() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return len(wr.watchers)
}
