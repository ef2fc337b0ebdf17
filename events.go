// Copyright 2026 The Genvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package genvisor

import (
	"time"
)

// EventType names a worker lifecycle transition.
type EventType string

const (
	EventStarted        EventType = "started"
	EventExited         EventType = "exited"
	EventMemoryExceeded EventType = "memory_exceeded"
	EventUnhealthy      EventType = "unhealthy"
	EventRestarting     EventType = "restarting"
	EventGivenUp        EventType = "given_up"
	EventStopped        EventType = "stopped"
	EventSpawnFailed    EventType = "spawn_failed"
)

// Event is a record of something that happened to a worker.  Fields that
// do not apply to the event type are left zero.
type Event struct {
	Worker string    `json:"worker"`
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	Pid    int       `json:"pid,omitempty"`
	RunID  string    `json:"run_id,omitempty"`
	Code   int       `json:"code,omitempty"`
	Signal string    `json:"signal,omitempty"`
	Memory uint64    `json:"memory,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// EventSink receives worker events.  Record is called from the worker's own
// goroutine, so it must not block for long; implementations that do I/O
// should queue.
type EventSink interface {
	Record(ev Event)
}

// EventFunc adapts an ordinary function to the EventSink interface.
type EventFunc func(ev Event)

func (f EventFunc) Record(ev Event) {
	f(ev)
}
