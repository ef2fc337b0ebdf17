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
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is where a worker is in its lifecycle.
//
//	            +-----------+   start    +------------+
//	  +-------->|  Stopped  +----------->|  Starting  +------+
//	  |         +-----------+            +-----+------+      |
//	  |                                        |        spawn error
//	  |  autorestart off                 alive |             |
//	  |                                  +-----V-----+  +----V----+
//	  +----------------------------------+  Running  |  | GivenUp |
//	  |                                  +--+-----+--+  +----^----+
//	  |                              exit   |     | memory   |
//	  |                            +--------V+   +V---------+ |
//	  +----------------------------+  Exited |   | MemoryEx | |
//	                               +----+----+   +----+-----+ |
//	                                    |  restart    |  crash loop
//	                               +----V-------------V---+   |
//	                               |      Restarting      +---+
//	                               +----------------------+
//
// Any phase goes to Stopped when the worker is stopped.
type Phase int

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseExited
	PhaseMemoryExceeded
	PhaseRestarting
	PhaseGivenUp
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseExited:
		return "exited"
	case PhaseMemoryExceeded:
		return "memory-exceeded"
	case PhaseRestarting:
		return "restarting"
	case PhaseGivenUp:
		return "given-up"
	}
	return "unknown"
}

// Reasons recorded in Status.LastReason.
const (
	ReasonExit    = "exit"
	ReasonMemory  = "memory"
	ReasonHealth  = "health"
	ReasonStopped = "stopped"
)

// Status is a point-in-time copy of a worker's state.
type Status struct {
	Name           string
	Phase          Phase
	Pid            int
	Port           int
	WorkerID       string
	RunID          string
	StartTime      time.Time
	Since          time.Time
	Restarts       int
	TotalRestarts  int
	LastExit       ExitStatus
	LastReason     string
	LastMemory     uint64
	LastMemoryTime time.Time
	LogError       string
	LogDropped     int64
	Err            string
}

// Uptime is how long the current process has been running, or zero.
func (s *Status) Uptime(now time.Time) time.Duration {
	if s.Phase != PhaseRunning || s.StartTime.IsZero() {
		return 0
	}
	return now.Sub(s.StartTime)
}

// WorkerOptions are the collaborators a Worker needs from its pool.  All of
// them are optional.
type WorkerOptions struct {
	Launcher Launcher
	Logger   *log.Logger
	Events   EventSink
	Notify   func()
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdRestart
	cmdClose
)

type command struct {
	kind  cmdKind
	grace time.Duration
	reply chan error
}

type intent int

const (
	intentNone intent = iota
	intentStop
	intentRestart
)

type probeResult struct {
	gen int
	err error
}

// Worker supervises a single process.  Its state is owned by one goroutine,
// which receives commands over a channel and publishes a copy of its status
// after every change.  Methods on Worker are safe for concurrent use.
type Worker struct {
	spec     WorkerSpec
	launcher Launcher
	sink     *LogSink
	mlog     *MultiLogger
	logger   *log.Logger
	events   EventSink
	notify   func()
	client   *http.Client
	cmds     chan *command
	done     chan struct{}
	probeC   chan probeResult
	mx       sync.Mutex
	status   Status

	// Everything below is only touched by the run goroutine.
	st        Status
	policy    *RestartPolicy
	handle    Handle
	ticker    *time.Ticker
	timer     *time.Timer
	reason    string
	intent    intent
	waiters   []*command
	closing   bool
	memWarned bool
	probing   bool
	probeGen  int
	lastProbe time.Time
	failures  int
}

// NewWorker creates a worker in the Stopped phase.  Nothing is launched
// until Start is called.
func NewWorker(spec WorkerSpec, opts WorkerOptions) *Worker {
	spec.applyDefaults()
	w := &Worker{
		spec:     spec,
		launcher: opts.Launcher,
		events:   opts.Events,
		notify:   opts.Notify,
		client:   &http.Client{},
		cmds:     make(chan *command),
		done:     make(chan struct{}),
		probeC:   make(chan probeResult, 1),
	}
	if w.launcher == nil {
		w.launcher = ExecLauncher{}
	}
	w.sink = NewLogSink(&w.spec)
	w.mlog = NewMultiLogger("")
	w.mlog.AddWriter(w.sink.Writer(StreamSupervisor), 0)
	if opts.Logger != nil {
		w.mlog.AddLogger(opts.Logger)
	}
	w.logger = w.mlog.Logger()
	w.sink.SetLogger(w.logger)
	w.policy = NewRestartPolicy(&w.spec)

	now := time.Now()
	w.st = Status{
		Name:     spec.Name,
		Phase:    PhaseStopped,
		Port:     spec.Port,
		WorkerID: spec.WorkerID,
		Since:    now,
	}
	w.status = w.st
	if e := w.sink.Err(); e != nil {
		w.logf("%v", e)
	}
	go w.run()
	return w
}

// applyDefaults fills in values a hand-built spec may have left out, and
// makes sure the environment carries PORT and WORKER_ID.
func (s *WorkerSpec) applyDefaults() {
	durations := []struct {
		dst *time.Duration
		def time.Duration
	}{
		{&s.PollInterval, DefaultPollInterval},
		{&s.KillTimeout, DefaultKillTimeout},
		{&s.RestartDelay, DefaultRestartDelay},
		{&s.MaxRestartDelay, DefaultMaxRestartDelay},
		{&s.RestartWindow, DefaultRestartWindow},
		{&s.MinUptime, DefaultMinUptime},
	}
	for _, d := range durations {
		if *d.dst <= 0 {
			*d.dst = d.def
		}
	}
	if s.WorkerID == "" {
		s.WorkerID = s.Name
	}
	env := make(map[string]string, len(s.Env)+2)
	for k, v := range s.Env {
		env[k] = v
	}
	if _, ok := env["PORT"]; !ok && s.Port > 0 {
		env["PORT"] = strconv.Itoa(s.Port)
	}
	if _, ok := env["WORKER_ID"]; !ok {
		env["WORKER_ID"] = s.WorkerID
	}
	s.Env = env
	if s.HealthCheck != nil {
		h := *s.HealthCheck
		if h.Interval <= 0 {
			h.Interval = DefaultHealthInterval
		}
		if h.Timeout <= 0 {
			h.Timeout = DefaultHealthTimeout
		}
		if h.Failures <= 0 {
			h.Failures = DefaultHealthFailures
		}
		s.HealthCheck = &h
	}
}

func (w *Worker) Name() string {
	return w.spec.Name
}

// Spec returns a copy of the worker's declaration.
func (w *Worker) Spec() WorkerSpec {
	return w.spec
}

// Status returns a copy of the worker's most recently published state.
func (w *Worker) Status() Status {
	w.mx.Lock()
	st := w.status
	w.mx.Unlock()
	if e := w.sink.Err(); e != nil {
		st.LogError = e.Error()
	} else {
		st.LogError = ""
	}
	st.LogDropped = w.sink.Dropped()
	return st
}

// Log returns the ring of recent output and supervisor messages.
func (w *Worker) Log() *Log {
	return w.sink.Ring()
}

// Logger returns the logger for supervisor messages about this worker.
func (w *Worker) Logger() *log.Logger {
	return w.logger
}

// ReopenLogs reopens the worker's log files.
func (w *Worker) ReopenLogs() error {
	return w.sink.Reopen()
}

// Done is closed once the worker has been closed and its process is gone.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start launches the worker if it is Stopped or GivenUp, clearing its
// restart history.  It is a no-op for a worker that is already up.  The
// returned error is the *SpawnError if the launch failed.
func (w *Worker) Start() error {
	return w.send(cmdStart, 0)
}

// Stop terminates the worker's process, allowing grace before it is
// killed, and leaves the worker Stopped.  Stopping a Stopped worker does
// nothing and succeeds.  Stop returns once the process is gone.
func (w *Worker) Stop(grace time.Duration) error {
	if e := w.send(cmdStop, grace); e != ErrShutdown {
		return e
	}
	return nil
}

// Restart stops the process (if any) and launches a fresh one, with a
// clean restart history.
func (w *Worker) Restart(grace time.Duration) error {
	return w.send(cmdRestart, grace)
}

// Close stops the worker for good.  The worker cannot be used afterwards.
func (w *Worker) Close(grace time.Duration) {
	w.send(cmdClose, grace)
	<-w.done
}

func (w *Worker) send(kind cmdKind, grace time.Duration) error {
	c := &command{kind: kind, grace: grace, reply: make(chan error, 1)}
	select {
	case w.cmds <- c:
	case <-w.done:
		return ErrShutdown
	}
	select {
	case e := <-c.reply:
		return e
	case <-w.done:
		// The loop may have replied just before exiting.
		select {
		case e := <-c.reply:
			return e
		default:
		}
		return ErrShutdown
	}
}

func (w *Worker) logf(format string, v ...interface{}) {
	w.logger.Printf(format, v...)
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.sink.Close()
	for {
		var tickC <-chan time.Time
		var timerC <-chan time.Time
		var doneC <-chan struct{}
		if w.ticker != nil {
			tickC = w.ticker.C
		}
		if w.timer != nil {
			timerC = w.timer.C
		}
		if w.handle != nil {
			doneC = w.handle.Done()
		}

		select {
		case c := <-w.cmds:
			w.dispatch(c)
		case <-doneC:
			w.reap()
		case now := <-tickC:
			w.tick(now)
		case <-timerC:
			w.timer = nil
			w.launch("Restarted after exit")
		case r := <-w.probeC:
			w.probed(r)
		}

		if w.closing && w.handle == nil {
			w.stopTicker()
			w.cancelRestart()
			return
		}
	}
}

func (w *Worker) dispatch(c *command) {
	switch c.kind {
	case cmdStart:
		if w.closing {
			c.reply <- ErrShutdown
			return
		}
		switch {
		case w.handle != nil && w.intent == intentStop:
			// Still on its way down; bring it back afterwards.
			w.intent = intentRestart
			w.waiters = append(w.waiters, c)
		case w.st.Phase == PhaseStopped || w.st.Phase == PhaseGivenUp:
			w.resetCounters()
			c.reply <- w.launch("Started by request")
		default:
			c.reply <- nil
		}

	case cmdStop, cmdClose:
		if c.kind == cmdClose {
			w.closing = true
		}
		w.cancelRestart()
		if w.handle == nil {
			if w.st.Phase != PhaseStopped {
				w.setPhase(PhaseStopped)
				w.logf("Stopped")
				w.record(Event{Type: EventStopped})
				w.publish()
			}
			c.reply <- nil
			return
		}
		w.intent = intentStop
		w.waiters = append(w.waiters, c)
		w.terminate(c.grace)

	case cmdRestart:
		if w.closing {
			c.reply <- ErrShutdown
			return
		}
		w.cancelRestart()
		if w.handle == nil {
			w.resetCounters()
			c.reply <- w.launch("Restarted by request")
			return
		}
		if w.intent != intentStop {
			w.intent = intentRestart
		}
		w.waiters = append(w.waiters, c)
		w.terminate(c.grace)
	}
}

func (w *Worker) reply(e error) {
	for _, c := range w.waiters {
		c.reply <- e
	}
	w.waiters = nil
}

// terminate asks the process to go away without blocking the loop.  The
// exit is noticed through the handle's Done channel.
func (w *Worker) terminate(grace time.Duration) {
	h := w.handle
	go h.Terminate(grace)
}

func (w *Worker) launch(detail string) error {
	w.setPhase(PhaseStarting)
	w.publish()

	h, e := w.launcher.Launch(&w.spec, w.sink)
	if e != nil {
		var se *SpawnError
		if !errors.As(e, &se) {
			e = &SpawnError{Name: w.spec.Name, Err: e}
		}
		w.setPhase(PhaseGivenUp)
		w.st.Pid = 0
		w.st.Err = e.Error()
		w.logf("Failed to start: %v", e)
		w.record(Event{Type: EventSpawnFailed, Detail: e.Error()})
		w.publish()
		return e
	}

	now := time.Now()
	w.handle = h
	w.probeGen++
	w.probing = false
	w.failures = 0
	w.lastProbe = now
	w.memWarned = false
	w.setPhase(PhaseRunning)
	w.st.Pid = h.Pid()
	w.st.StartTime = now
	w.st.RunID = uuid.NewString()
	w.st.Err = ""
	w.ticker = time.NewTicker(w.spec.PollInterval)
	w.logf("Started pid %d: %s", w.st.Pid, detail)
	w.record(Event{Type: EventStarted, Detail: detail})
	w.publish()
	return nil
}

// reap handles the exit of the current process, for whatever reason, and
// decides what happens next.
func (w *Worker) reap() {
	h := w.handle
	w.handle = nil
	w.stopTicker()
	w.probeGen++
	w.probing = false

	x := h.Poll()
	now := time.Now()
	pid := w.st.Pid
	reason := w.reason
	w.reason = ""
	if reason == "" {
		reason = ReasonExit
	}
	if now.Sub(w.st.StartTime) >= w.spec.MinUptime {
		w.st.Restarts = 0
	}
	w.st.Pid = 0
	w.st.LastExit = x

	switch w.intent {
	case intentStop:
		w.intent = intentNone
		w.st.LastReason = ReasonStopped
		w.setPhase(PhaseStopped)
		w.logf("Stopped pid %d: %v", pid, x)
		w.record(Event{Type: EventStopped, Pid: pid, Code: x.Code, Signal: x.Signal})
		w.publish()
		w.reply(nil)
		return
	case intentRestart:
		w.intent = intentNone
		w.st.LastReason = ReasonStopped
		w.logf("Stopped pid %d for restart: %v", pid, x)
		w.record(Event{Type: EventStopped, Pid: pid, Code: x.Code, Signal: x.Signal})
		w.resetCounters()
		w.reply(w.launch("Restarted by request"))
		return
	}

	w.st.LastReason = reason
	if reason == ReasonMemory {
		w.setPhase(PhaseMemoryExceeded)
	} else {
		w.setPhase(PhaseExited)
	}
	w.logf("Pid %d exited (%s): %v", pid, reason, x)
	w.record(Event{Type: EventExited, Pid: pid, Code: x.Code,
		Signal: x.Signal, Detail: reason})

	if !w.spec.AutoRestart {
		w.setPhase(PhaseStopped)
		w.logf("Not restarting, autorestart is off")
		w.publish()
		return
	}

	d := w.policy.Decide(now, w.st.Restarts+1)
	if d.Action == ActionStop {
		w.setPhase(PhaseGivenUp)
		w.st.Err = ErrCrashLoop.Error()
		w.logf("%v: giving up after %d restarts", ErrCrashLoop, w.st.Restarts)
		w.record(Event{Type: EventGivenUp, Detail: ErrCrashLoop.Error()})
		w.publish()
		return
	}

	w.st.Restarts++
	w.st.TotalRestarts++
	w.setPhase(PhaseRestarting)
	w.logf("Restarting in %v (attempt %d)", d.Delay, w.st.Restarts)
	w.record(Event{Type: EventRestarting, Detail: d.String()})
	w.publish()
	w.timer = time.NewTimer(d.Delay)
}

func (w *Worker) tick(now time.Time) {
	if w.handle == nil || w.reason != "" || w.intent != intentNone {
		return
	}
	if w.handle.Poll().Exited {
		w.reap()
		return
	}
	if w.st.Restarts > 0 && now.Sub(w.st.StartTime) >= w.spec.MinUptime {
		w.logf("Up for %v, clearing restart count", w.spec.MinUptime)
		w.st.Restarts = 0
		w.publish()
	}

	m, e := w.handle.MemoryBytes()
	if e != nil {
		if !w.memWarned {
			w.logf("%v", e)
			w.memWarned = true
		}
	} else {
		w.st.LastMemory = m
		w.st.LastMemoryTime = now
		if limit := w.spec.MemoryLimit; limit > 0 && m > limit {
			w.reason = ReasonMemory
			w.setPhase(PhaseMemoryExceeded)
			w.logf("Memory %d exceeds limit %d, terminating", m, limit)
			w.record(Event{Type: EventMemoryExceeded, Memory: m})
			w.publish()
			w.terminate(w.spec.KillTimeout)
			return
		}
		// Samples are not worth waking up watchers for.
		w.mx.Lock()
		w.status.LastMemory = m
		w.status.LastMemoryTime = now
		w.mx.Unlock()
	}

	if hc := w.spec.HealthCheck; hc != nil && !w.probing &&
		now.Sub(w.lastProbe) >= hc.Interval {
		w.probe(now)
	}
}

func (w *Worker) probe(now time.Time) {
	hc := w.spec.HealthCheck
	gen := w.probeGen
	w.probing = true
	w.lastProbe = now
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hc.Timeout)
		defer cancel()
		e := w.checkHealth(ctx, hc.URL)
		select {
		case w.probeC <- probeResult{gen: gen, err: e}:
		case <-w.done:
		}
	}()
}

func (w *Worker) checkHealth(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if e != nil {
		return e
	}
	resp, e := w.client.Do(req)
	if e != nil {
		return e
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

func (w *Worker) probed(r probeResult) {
	if r.gen != w.probeGen {
		return
	}
	w.probing = false
	if r.err == nil {
		w.failures = 0
		return
	}
	hc := w.spec.HealthCheck
	w.failures++
	w.logf("Health check failed (%d/%d): %v", w.failures, hc.Failures, r.err)
	if w.failures < hc.Failures || w.handle == nil ||
		w.reason != "" || w.intent != intentNone {
		return
	}
	w.reason = ReasonHealth
	w.record(Event{Type: EventUnhealthy, Detail: r.err.Error()})
	w.publish()
	w.terminate(w.spec.KillTimeout)
}

func (w *Worker) resetCounters() {
	w.st.Restarts = 0
	w.st.Err = ""
	w.policy.Reset()
}

func (w *Worker) cancelRestart() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Worker) stopTicker() {
	if w.ticker != nil {
		w.ticker.Stop()
		w.ticker = nil
	}
}

func (w *Worker) setPhase(p Phase) {
	w.st.Phase = p
	w.st.Since = time.Now()
}

func (w *Worker) record(ev Event) {
	if w.events == nil {
		return
	}
	ev.Worker = w.spec.Name
	ev.Time = time.Now()
	if ev.Pid == 0 {
		ev.Pid = w.st.Pid
	}
	ev.RunID = w.st.RunID
	w.events.Record(ev)
}

func (w *Worker) publish() {
	w.mx.Lock()
	w.status = w.st
	w.mx.Unlock()
	if w.notify != nil {
		w.notify()
	}
}
