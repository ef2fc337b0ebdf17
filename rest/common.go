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

package rest

import (
	"time"

	"github.com/SahanWeerasiri/genvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader turn a GET into a long poll.  The
	// server waits up to PollTimeHeader seconds for the resource to
	// change from PollEtagHeader before replying.
	PollEtagHeader = "X-Genvisor-Poll-Etag"
	PollTimeHeader = "X-Genvisor-Poll-Time"

	// MaxPollTime caps the wait requested with PollTimeHeader, in seconds.
	MaxPollTime = 300
)

var ok struct{}

// PoolInfo describes the pool as a whole.
type PoolInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	Workers    int       `json:"workers"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	etag       string
}

// WorkerInfo is the status of one worker.
type WorkerInfo struct {
	Name          string    `json:"name"`
	Phase         string    `json:"phase"`
	Pid           int       `json:"pid"`
	Port          int       `json:"port"`
	WorkerID      string    `json:"worker_id"`
	RunID         string    `json:"run_id"`
	Command       string    `json:"command"`
	Args          []string  `json:"args"`
	Dir           string    `json:"cwd"`
	StartTime     time.Time `json:"started"`
	Since         time.Time `json:"since"`
	Uptime        int64     `json:"uptime"`
	Restarts      int       `json:"restarts"`
	TotalRestarts int       `json:"total_restarts"`
	LastExit      string    `json:"last_exit"`
	LastCode      int       `json:"last_code"`
	LastSignal    string    `json:"last_signal"`
	LastReason    string    `json:"last_reason"`
	Memory        uint64    `json:"memory"`
	MemoryTime    time.Time `json:"memory_time"`
	MemoryLimit   uint64    `json:"memory_limit"`
	AutoRestart   bool      `json:"autorestart"`
	LogError      string    `json:"log_error,omitempty"`
	LogDropped    int64     `json:"log_dropped"`
	Error         string    `json:"error,omitempty"`
	etag          string
}

// Running reports whether the worker's process is up.
func (w *WorkerInfo) Running() bool {
	return w.Phase == genvisor.PhaseRunning.String()
}

// Failed reports whether the worker needs an operator.
func (w *WorkerInfo) Failed() bool {
	return w.Phase == genvisor.PhaseGivenUp.String()
}

// LogRecord is one line of a worker or pool log.
type LogRecord = genvisor.LogRecord

// Event is a journaled lifecycle event.
type Event = genvisor.Event

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func workerInfo(w *genvisor.Worker, now time.Time) *WorkerInfo {
	st := w.Status()
	spec := w.Spec()
	info := &WorkerInfo{
		Name:          st.Name,
		Phase:         st.Phase.String(),
		Pid:           st.Pid,
		Port:          st.Port,
		WorkerID:      st.WorkerID,
		RunID:         st.RunID,
		Command:       spec.Command,
		Args:          spec.Args,
		Dir:           spec.Dir,
		StartTime:     st.StartTime,
		Since:         st.Since,
		Uptime:        int64(st.Uptime(now) / time.Second),
		Restarts:      st.Restarts,
		TotalRestarts: st.TotalRestarts,
		LastReason:    st.LastReason,
		Memory:        st.LastMemory,
		MemoryTime:    st.LastMemoryTime,
		MemoryLimit:   spec.MemoryLimit,
		AutoRestart:   spec.AutoRestart,
		LogError:      st.LogError,
		LogDropped:    st.LogDropped,
		Error:         st.Err,
	}
	if st.LastExit.Exited {
		info.LastExit = st.LastExit.String()
		info.LastCode = st.LastExit.Code
		info.LastSignal = st.LastExit.Signal
	}
	return info
}
