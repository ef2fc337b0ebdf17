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
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

type testLog struct {
	t *testing.T
}

func (tl *testLog) Write(p []byte) (n int, err error) {
	s := string(p)
	s = strings.Trim(s, "\n")
	tl.t.Log(s)
	return len(p), nil
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(&testLog{t: t}, "", 0)
}

// testH is a Handle that never touches the operating system.
type testH struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	memory     uint64
	memErr     error
	ignoreTerm bool
	terms      int
	status     ExitStatus
	sync.Mutex
}

func newTestH(pid int) *testH {
	return &testH{pid: pid, done: make(chan struct{})}
}

func (h *testH) exit(code int, sig string) {
	h.once.Do(func() {
		h.Lock()
		h.status = ExitStatus{
			Exited: true,
			Code:   code,
			Signal: sig,
			Time:   time.Now(),
		}
		h.Unlock()
		close(h.done)
	})
}

func (h *testH) setMemory(n uint64) {
	h.Lock()
	h.memory = n
	h.Unlock()
}

func (h *testH) terminated() int {
	h.Lock()
	defer h.Unlock()
	return h.terms
}

func (h *testH) Pid() int {
	return h.pid
}

func (h *testH) Poll() ExitStatus {
	h.Lock()
	defer h.Unlock()
	return h.status
}

func (h *testH) Done() <-chan struct{} {
	return h.done
}

func (h *testH) MemoryBytes() (uint64, error) {
	h.Lock()
	defer h.Unlock()
	if h.memErr != nil {
		return 0, &ResourceQueryError{Pid: h.pid, Err: h.memErr}
	}
	return h.memory, nil
}

func (h *testH) Terminate(grace time.Duration) {
	select {
	case <-h.done:
		return
	default:
	}
	h.Lock()
	h.terms++
	ignore := h.ignoreTerm
	h.Unlock()
	if !ignore {
		h.exit(-1, "SIGTERM")
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		h.exit(-1, "SIGKILL")
	}
}

// testL launches testH handles.  setup, if set, is called for each launch
// with the number of launches before it.
type testL struct {
	pid      int
	launches map[string]int
	handles  map[string][]*testH
	fail     map[string]bool
	setup    func(spec *WorkerSpec, n int, h *testH)
	sync.Mutex
}

func newTestL() *testL {
	return &testL{
		pid:      1000,
		launches: make(map[string]int),
		handles:  make(map[string][]*testH),
		fail:     make(map[string]bool),
	}
}

func (l *testL) Launch(spec *WorkerSpec, sink *LogSink) (Handle, error) {
	l.Lock()
	if l.fail[spec.Name] {
		l.Unlock()
		return nil, &SpawnError{Name: spec.Name, Err: errors.New("Injected failure")}
	}
	l.pid++
	h := newTestH(l.pid)
	n := l.launches[spec.Name]
	l.launches[spec.Name] = n + 1
	l.handles[spec.Name] = append(l.handles[spec.Name], h)
	setup := l.setup
	l.Unlock()

	if setup != nil {
		setup(spec, n, h)
	}
	sink.Append(StreamStdout, fmt.Sprintf("launch %d", n))
	return h, nil
}

func (l *testL) count(name string) int {
	l.Lock()
	defer l.Unlock()
	return l.launches[name]
}

func (l *testL) handle(name string, n int) *testH {
	l.Lock()
	defer l.Unlock()
	if n >= len(l.handles[name]) {
		return nil
	}
	return l.handles[name][n]
}

// testEvents collects events.
type testEvents struct {
	events []Event
	sync.Mutex
}

func (te *testEvents) Record(ev Event) {
	te.Lock()
	te.events = append(te.events, ev)
	te.Unlock()
}

func (te *testEvents) count(typ EventType) int {
	te.Lock()
	defer te.Unlock()
	n := 0
	for _, ev := range te.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func testSpec(name string, port int) WorkerSpec {
	return WorkerSpec{
		Name:            name,
		Command:         "test",
		Port:            port,
		AutoRestart:     true,
		PollInterval:    10 * time.Millisecond,
		KillTimeout:     100 * time.Millisecond,
		RestartDelay:    5 * time.Millisecond,
		MaxRestartDelay: 20 * time.Millisecond,
		MaxRestarts:     3,
		RestartWindow:   10 * time.Second,
		MinUptime:       time.Minute,
	}
}

// eventually polls cond until it holds or d passes.
func eventually(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func phaseIs(w *Worker, p Phase) func() bool {
	return func() bool {
		return w.Status().Phase == p
	}
}

func (l *testL) setFail(name string) {
	l.Lock()
	l.fail[name] = true
	l.Unlock()
}

func (l *testL) setSetup(fn func(spec *WorkerSpec, n int, h *testH)) {
	l.Lock()
	l.setup = fn
	l.Unlock()
}
