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

// Package journal keeps a durable history of worker lifecycle events in a
// SQLite database.  A Journal is a genvisor.EventSink; events are queued and
// written by a background goroutine so that a slow disk never holds up a
// worker.
package journal

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/SahanWeerasiri/genvisor"
)

// QueueSize is the number of events that may be waiting to be written.
// Events beyond that are dropped and counted.
const QueueSize = 256

// Row is an event as stored in the database.
type Row struct {
	ID     string `db:"id"`
	Worker string `db:"worker"`
	Type   string `db:"event_type"`
	Time   int64  `db:"timestamp"`
	Pid    int    `db:"pid"`
	RunID  string `db:"run_id"`
	Code   int    `db:"code"`
	Signal string `db:"signal"`
	Memory int64  `db:"memory"`
	Detail string `db:"detail"`
}

// Event converts the row back to a genvisor.Event.
func (r *Row) Event() genvisor.Event {
	return genvisor.Event{
		Worker: r.Worker,
		Type:   genvisor.EventType(r.Type),
		Time:   time.Unix(0, r.Time),
		Pid:    r.Pid,
		RunID:  r.RunID,
		Code:   r.Code,
		Signal: r.Signal,
		Memory: uint64(r.Memory),
		Detail: r.Detail,
	}
}

func rowFor(ev genvisor.Event) *Row {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	return &Row{
		ID:     uuid.New().String(),
		Worker: ev.Worker,
		Type:   string(ev.Type),
		Time:   ev.Time.UnixNano(),
		Pid:    ev.Pid,
		RunID:  ev.RunID,
		Code:   ev.Code,
		Signal: ev.Signal,
		Memory: int64(ev.Memory),
		Detail: ev.Detail,
	}
}

type entry struct {
	ev  genvisor.Event
	ack chan struct{}
}

// Journal records events into a database.
type Journal struct {
	db      *sqlx.DB
	queue   chan entry
	done    chan struct{}
	logger  *log.Logger
	dropped int64
	closed  bool
	mx      sync.RWMutex
}

// DBInit creates the events table and its indexes, if needed.
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS worker_events (
		id TEXT PRIMARY KEY,
		worker TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		run_id TEXT NOT NULL DEFAULT '',
		code INTEGER NOT NULL DEFAULT 0,
		signal TEXT NOT NULL DEFAULT '',
		memory INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_worker_events_worker ON worker_events(worker, timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_worker_events_type ON worker_events(event_type)`)
	return err
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// New creates a journal on an already open database.
func New(db *sqlx.DB) (*Journal, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	j := &Journal{
		db:     db,
		queue:  make(chan entry, QueueSize),
		done:   make(chan struct{}),
		logger: log.New(os.Stderr, "[journal] ", log.LstdFlags),
	}
	go j.run()
	return j, nil
}

// SetLogger sets where write failures are reported.
func (j *Journal) SetLogger(l *log.Logger) {
	j.mx.Lock()
	j.logger = l
	j.mx.Unlock()
}

func (j *Journal) logf(format string, v ...interface{}) {
	j.mx.RLock()
	l := j.logger
	j.mx.RUnlock()
	if l != nil {
		l.Printf(format, v...)
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for ent := range j.queue {
		if ent.ack != nil {
			close(ent.ack)
			continue
		}
		if err := j.Insert(ent.ev); err != nil {
			j.logf("Failed recording %s event for %s: %v",
				ent.ev.Type, ent.ev.Worker, err)
		}
	}
}

// Record queues an event for writing.  It never blocks; if the queue is
// full the event is dropped.
func (j *Journal) Record(ev genvisor.Event) {
	j.mx.RLock()
	defer j.mx.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- entry{ev: ev}:
	default:
		if atomic.AddInt64(&j.dropped, 1) == 1 {
			j.logger.Printf("Queue full, dropping events")
		}
	}
}

// Dropped returns the number of events lost to a full queue.
func (j *Journal) Dropped() int64 {
	return atomic.LoadInt64(&j.dropped)
}

// Flush waits until every event queued so far has been written.
func (j *Journal) Flush() {
	j.mx.RLock()
	defer j.mx.RUnlock()
	if j.closed {
		return
	}
	ack := make(chan struct{})
	j.queue <- entry{ack: ack}
	<-ack
}

// Insert writes an event straight away.
func (j *Journal) Insert(ev genvisor.Event) error {
	_, err := j.db.NamedExec(`
		INSERT INTO worker_events (
			id, worker, event_type, timestamp, pid, run_id,
			code, signal, memory, detail
		) VALUES (
			:id, :worker, :event_type, :timestamp, :pid, :run_id,
			:code, :signal, :memory, :detail
		)`, rowFor(ev))
	return err
}

// Events returns up to limit of the most recent events, oldest first.  An
// empty worker name returns events for every worker.
func (j *Journal) Events(worker string, limit int) ([]genvisor.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Row
	var err error
	if worker == "" {
		err = j.db.Select(&rows,
			"SELECT * FROM worker_events ORDER BY timestamp DESC, rowid DESC LIMIT $1",
			limit)
	} else {
		err = j.db.Select(&rows,
			"SELECT * FROM worker_events WHERE worker = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2",
			worker, limit)
	}
	if err != nil {
		return nil, err
	}
	events := make([]genvisor.Event, len(rows))
	for i := range rows {
		events[len(rows)-1-i] = rows[i].Event()
	}
	return events, nil
}

// Close writes what is queued and closes the database.
func (j *Journal) Close() error {
	j.mx.Lock()
	if j.closed {
		j.mx.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mx.Unlock()
	<-j.done
	return j.db.Close()
}
