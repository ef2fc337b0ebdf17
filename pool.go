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
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Pool supervises a fixed set of workers, declared once with LoadAndStart.
// The pool keeps no lock over the workers' state; each worker owns its
// own, and the pool only gathers copies of it.
type Pool struct {
	name       string
	workers    []*Worker
	byName     map[string]*Worker
	launcher   Launcher
	events     EventSink
	stagger    time.Duration
	logger     *log.Logger
	log        *Log
	mlog       *MultiLogger
	started    bool
	closed     bool
	pending    map[*Worker]bool // not yet reached by LoadAndStart
	smx        sync.Mutex       // held while LoadAndStart starts a worker
	serial     int64
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

// PoolInfo is top-level information about a Pool.
type PoolInfo struct {
	Name       string
	Serial     int64
	Workers    int
	CreateTime time.Time
	UpdateTime time.Time
}

// AllWorkers may be passed to Start, Stop and Restart to mean every worker.
const AllWorkers = "all"

func (p *Pool) lock() {
	p.mx.Lock()
}

func (p *Pool) unlock() {
	p.mx.Unlock()
}

func (p *Pool) wakeUp() {
	// NB: The lock must be held here, or woken goroutines may not see
	// the updated serial number.
	for cv := range p.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  Call with lock
// held.
func (p *Pool) bumpSerial() int64 {
	p.updateTime = time.Now()
	p.serial++
	p.wakeUp()
	return p.serial
}

// changed is how workers tell us their state moved.
func (p *Pool) changed() {
	p.lock()
	p.bumpSerial()
	p.unlock()
}

// WatchSerial waits for the serial number to change from old.  It returns
// the new serial number, or the old one if expire passes first.  An expire
// of zero is a poll.
func (p *Pool) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&p.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			p.lock()
			expired = true
			cv.Broadcast()
			p.unlock()
		})
	} else {
		expired = true
	}

	p.lock()
	p.cvs[cv] = true
	for {
		rv = p.serial
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(p.cvs, cv)
	p.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// Serial returns the pool's serial number.  It changes whenever any worker
// changes state.
func (p *Pool) Serial() int64 {
	p.lock()
	rv := p.serial
	p.unlock()
	return rv
}

func (p *Pool) Name() string {
	return p.name
}

// GetInfo returns top-level information about the pool, consistently.
func (p *Pool) GetInfo() *PoolInfo {
	p.lock()
	i := &PoolInfo{
		Name:       p.name,
		Serial:     p.serial,
		Workers:    len(p.workers),
		CreateTime: p.createTime,
		UpdateTime: p.updateTime,
	}
	p.unlock()
	return i
}

// SetLogger replaces the default logger (stderr) for pool messages.  Every
// worker's supervisor messages also reach it, prefixed with the worker name.
func (p *Pool) SetLogger(l *log.Logger) {
	p.lock()
	defer p.unlock()
	if p.logger != nil {
		p.mlog.DelLogger(p.logger)
	}
	p.logger = l
	if l != nil {
		p.mlog.AddLogger(l)
	}
}

// SetLauncher replaces the launcher used for workers.  It must be called
// before LoadAndStart.
func (p *Pool) SetLauncher(l Launcher) {
	p.lock()
	p.launcher = l
	p.unlock()
}

// SetEventSink arranges for worker lifecycle events to be recorded.  It
// must be called before LoadAndStart.
func (p *Pool) SetEventSink(s EventSink) {
	p.lock()
	p.events = s
	p.unlock()
}

// SetStagger sets the delay between starting consecutive workers.
func (p *Pool) SetStagger(d time.Duration) {
	p.lock()
	p.stagger = d
	p.unlock()
}

func (p *Pool) logf(format string, v ...interface{}) {
	p.mlog.Logger().Printf(format, v...)
}

// LoadAndStart creates a worker for each spec and starts them, in order,
// with the stagger delay between them.  A *ConfigError is returned without
// starting anything if the specs are inconsistent.  If any worker gives up
// while the pool is starting, the returned error wraps ErrGivenUp; the
// other workers are left running.
func (p *Pool) LoadAndStart(ctx context.Context, specs []WorkerSpec) error {
	if e := ValidateSpecs(specs); e != nil {
		return e
	}

	p.lock()
	if p.closed {
		p.unlock()
		return ErrShutdown
	}
	if p.started {
		p.unlock()
		return ErrPoolStarted
	}
	p.started = true
	for _, spec := range specs {
		w := NewWorker(spec, WorkerOptions{
			Launcher: p.launcher,
			Logger:   log.New(p.mlog, "["+spec.Name+"] ", 0),
			Events:   p.events,
			Notify:   p.changed,
		})
		p.workers = append(p.workers, w)
		p.byName[spec.Name] = w
		p.pending[w] = true
	}
	workers := append([]*Worker{}, p.workers...)
	stagger := p.stagger
	p.bumpSerial()
	p.unlock()

	p.logf("*** Genvisor starting %d workers: %s ***", len(workers), p.name)
	for i, w := range workers {
		if i > 0 && stagger > 0 {
			select {
			case <-time.After(stagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		p.startPending(w)
	}

	var failed []string
	for _, w := range workers {
		if w.Status().Phase == PhaseGivenUp {
			failed = append(failed, w.Name())
		}
	}
	if len(failed) != 0 {
		return fmt.Errorf("%w: %s", ErrGivenUp, strings.Join(failed, ", "))
	}
	return nil
}

// startPending starts w unless a Stop or Shutdown has claimed it since
// LoadAndStart began.
func (p *Pool) startPending(w *Worker) {
	p.smx.Lock()
	defer p.smx.Unlock()
	if !p.pending[w] {
		return
	}
	delete(p.pending, w)
	w.Start()
}

// hold takes workers out of the startup sequence, so that an explicit stop
// is not undone by LoadAndStart reaching them later.  A start already in
// flight completes first.
func (p *Pool) hold(ws []*Worker) {
	p.smx.Lock()
	for _, w := range ws {
		delete(p.pending, w)
	}
	p.smx.Unlock()
}

// targets resolves a worker name, or AllWorkers (or the empty string).
func (p *Pool) targets(name string) ([]*Worker, error) {
	p.lock()
	defer p.unlock()
	if name == "" || name == AllWorkers {
		return append([]*Worker{}, p.workers...), nil
	}
	if w, ok := p.byName[name]; ok {
		return []*Worker{w}, nil
	}
	return nil, ErrNoWorker
}

// Stop stops the named worker, or all of them.  Workers are stopped
// concurrently, and Stop returns once every process is gone.  A negative
// grace uses each worker's configured kill timeout.  Stopping workers that
// are already stopped succeeds.
func (p *Pool) Stop(name string, grace time.Duration) error {
	ws, e := p.targets(name)
	if e != nil {
		return e
	}
	p.hold(ws)
	return p.each(ws, func(w *Worker) error {
		return w.Stop(graceFor(w, grace))
	})
}

// Restart restarts the named worker, or all of them in order with the
// stagger delay between them.
func (p *Pool) Restart(name string, grace time.Duration) error {
	ws, e := p.targets(name)
	if e != nil {
		return e
	}
	var first error
	p.staggered(ws, func(w *Worker) {
		if e := w.Restart(graceFor(w, grace)); e != nil && first == nil {
			first = e
		}
	})
	return first
}

// Start starts the named worker, or all of them, if stopped or given up.
func (p *Pool) Start(name string) error {
	ws, e := p.targets(name)
	if e != nil {
		return e
	}
	var first error
	p.staggered(ws, func(w *Worker) {
		if e := w.Start(); e != nil && first == nil {
			first = e
		}
	})
	return first
}

func (p *Pool) staggered(ws []*Worker, fn func(*Worker)) {
	p.lock()
	stagger := p.stagger
	p.unlock()
	for i, w := range ws {
		if i > 0 && stagger > 0 {
			time.Sleep(stagger)
		}
		fn(w)
	}
}

func (p *Pool) each(ws []*Worker, fn func(*Worker) error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(ws))
	for i, w := range ws {
		wg.Add(1)
		go func(i int, w *Worker) {
			defer wg.Done()
			errs[i] = fn(w)
		}(i, w)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func graceFor(w *Worker, grace time.Duration) time.Duration {
	if grace < 0 {
		return w.spec.KillTimeout
	}
	return grace
}

// Status returns a snapshot of every worker, in declaration order.
func (p *Pool) Status() []Status {
	ws, _ := p.targets(AllWorkers)
	rv := make([]Status, 0, len(ws))
	for _, w := range ws {
		rv = append(rv, w.Status())
	}
	return rv
}

// Worker looks up a worker by name.
func (p *Pool) Worker(name string) (*Worker, error) {
	p.lock()
	defer p.unlock()
	if w, ok := p.byName[name]; ok {
		return w, nil
	}
	return nil, ErrNoWorker
}

// Names returns the worker names in declaration order.
func (p *Pool) Names() []string {
	p.lock()
	defer p.unlock()
	rv := make([]string, 0, len(p.workers))
	for _, w := range p.workers {
		rv = append(rv, w.Name())
	}
	return rv
}

// ReopenLogs reopens every worker's log files, for use after rotation.
// The first failure is returned, but every worker is attempted.
func (p *Pool) ReopenLogs() error {
	ws, _ := p.targets(AllWorkers)
	var first error
	for _, w := range ws {
		if e := w.ReopenLogs(); e != nil {
			p.logf("Reopening logs of %s: %v", w.Name(), e)
			if first == nil {
				first = e
			}
		}
	}
	return first
}

// Shutdown stops every worker and closes them.  The pool cannot be
// started again.
func (p *Pool) Shutdown(grace time.Duration) {
	p.lock()
	if p.closed {
		p.unlock()
		return
	}
	p.closed = true
	ws := append([]*Worker{}, p.workers...)
	p.unlock()

	p.hold(ws)
	p.each(ws, func(w *Worker) error {
		w.Close(graceFor(w, grace))
		return nil
	})
	p.logf("*** Genvisor shut down: %s ***", p.name)
}

// GetLog returns the pool log: supervisor messages from the pool and from
// every worker.
func (p *Pool) GetLog(lastid int64) ([]LogRecord, int64) {
	return p.log.GetRecords(lastid)
}

func (p *Pool) WatchLog(old int64, expire time.Duration) int64 {
	return p.log.Watch(old, expire)
}

// NewPool returns an empty pool.
func NewPool(name string) *Pool {
	if name == "" {
		name = "genvisor"
	}
	// The serial starts at the current time in nsec, so that clients
	// caching by serial notice a restarted server.
	p := &Pool{name: name, serial: time.Now().UnixNano()}
	p.byName = make(map[string]*Worker)
	p.pending = make(map[*Worker]bool)
	p.cvs = make(map[*sync.Cond]bool)
	p.createTime = time.Now()
	p.updateTime = p.createTime
	p.stagger = DefaultStagger
	p.launcher = ExecLauncher{}
	p.mlog = NewMultiLogger("")
	p.log = NewLog()
	p.mlog.AddWriter(p.log, 0)
	p.logger = log.New(os.Stderr, "", log.LstdFlags)
	p.mlog.AddLogger(p.logger)
	return p
}
