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
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stream identifies where a line of output came from.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
	StreamSupervisor
)

func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "out"
	case StreamStderr:
		return "err"
	case StreamSupervisor:
		return "sup"
	}
	return "unknown"
}

// LogQueueSize is the number of lines that may be waiting for each log file
// before further lines are dropped.
const LogQueueSize = 1024

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LogSink receives a worker's output and appends it to the worker's log
// files.  There are up to three files: stdout, stderr, and a combined file
// that interleaves both (plus supervisor messages) with timestamps, in
// arrival order.  Each file is written by its own goroutine from a bounded
// queue, so a slow or full disk can never stall the supervisor; lines that
// do not fit in the queue are dropped and counted.
//
// Files are opened for append and never truncated, so history survives
// restarts of the worker and of the supervisor.
type LogSink struct {
	out        *logFile
	err        *logFile
	combined   *logFile
	timestamps bool
	ring       *Log
	logger     *log.Logger
	dropped    int64
	failure    error
	lock       sync.Mutex
	closed     bool
	cmx        sync.RWMutex // guards closed against the file queues
}

type logEntry struct {
	data   []byte
	reopen bool
	ack    chan struct{}
}

type logFile struct {
	path  string
	f     *os.File
	queue chan logEntry
	done  chan struct{}
	sink  *LogSink
}

// NewLogSink creates a sink for the files named in spec.  Files that cannot
// be opened are reported through Err, and their lines are discarded.
func NewLogSink(spec *WorkerSpec) *LogSink {
	s := &LogSink{
		timestamps: spec.Timestamps,
		ring:       NewLog(),
	}
	s.out = s.newFile(spec.OutFile)
	s.err = s.newFile(spec.ErrFile)
	s.combined = s.newFile(spec.CombinedFile)
	return s
}

func (s *LogSink) newFile(path string) *logFile {
	if path == "" {
		return nil
	}
	lf := &logFile{
		path:  path,
		queue: make(chan logEntry, LogQueueSize),
		done:  make(chan struct{}),
		sink:  s,
	}
	lf.open()
	go lf.run()
	return lf
}

func (lf *logFile) open() {
	if e := os.MkdirAll(filepath.Dir(lf.path), 0755); e != nil {
		lf.sink.setFailure(&LogWriteError{Path: lf.path, Err: e})
		return
	}
	f, e := os.OpenFile(lf.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if e != nil {
		lf.sink.setFailure(&LogWriteError{Path: lf.path, Err: e})
		return
	}
	lf.f = f
}

func (lf *logFile) run() {
	defer close(lf.done)
	for ent := range lf.queue {
		switch {
		case ent.reopen:
			if lf.f != nil {
				lf.f.Close()
				lf.f = nil
			}
			lf.open()
		case ent.data != nil && lf.f != nil:
			if _, e := lf.f.Write(ent.data); e != nil {
				lf.sink.setFailure(&LogWriteError{Path: lf.path, Err: e})
			}
		}
		if ent.ack != nil {
			close(ent.ack)
		}
	}
	if lf.f != nil {
		lf.f.Close()
	}
}

func (lf *logFile) enqueue(data []byte) {
	if lf == nil {
		return
	}
	select {
	case lf.queue <- logEntry{data: data}:
	default:
		atomic.AddInt64(&lf.sink.dropped, 1)
	}
}

// control sends an entry that must not be dropped, and waits for it to be
// processed.
func (lf *logFile) control(ent logEntry) {
	if lf == nil {
		return
	}
	ent.ack = make(chan struct{})
	lf.queue <- ent
	<-ent.ack
}

func (s *LogSink) files() []*logFile {
	return []*logFile{s.out, s.err, s.combined}
}

func (s *LogSink) setFailure(e error) {
	s.lock.Lock()
	s.failure = e
	s.lock.Unlock()
}

// Err returns the most recent write failure, if any.  It is cleared by a
// successful Reopen.
func (s *LogSink) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.failure
}

// Dropped returns the number of lines discarded because a queue was full.
func (s *LogSink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

// Ring returns the in-memory log of recent lines.
func (s *LogSink) Ring() *Log {
	return s.ring
}

// SetLogger sets the logger used for supervisor messages about the
// process, e.g. failures to deliver signals.
func (s *LogSink) SetLogger(l *log.Logger) {
	s.lock.Lock()
	s.logger = l
	s.lock.Unlock()
}

func (s *LogSink) Logger() *log.Logger {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.logger
}

// Append records one line (without its newline) from the given stream.
// It never blocks on file I/O.
func (s *LogSink) Append(stream Stream, line string) {
	s.cmx.RLock()
	defer s.cmx.RUnlock()
	if s.closed {
		return
	}
	now := time.Now()
	s.ring.Append(stream, line, now)

	stamp := now.Format(logTimeFormat)
	switch stream {
	case StreamStdout:
		s.out.enqueue(s.format(stamp, "", line, s.timestamps))
	case StreamStderr:
		s.err.enqueue(s.format(stamp, "", line, s.timestamps))
	}
	s.combined.enqueue(s.format(stamp, stream.String(), line, true))
}

func (s *LogSink) format(stamp, tag, line string, withTime bool) []byte {
	var b strings.Builder
	if withTime {
		b.WriteString(stamp)
		b.WriteString(": ")
	}
	if tag != "" {
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("] ")
	}
	b.WriteString(line)
	b.WriteString("\n")
	return []byte(b.String())
}

// Writer returns an io.Writer that appends each line written to it to the
// given stream.  This is how supervisor messages reach the worker's logs.
func (s *LogSink) Writer(stream Stream) io.Writer {
	return &streamWriter{sink: s, stream: stream}
}

type streamWriter struct {
	sink   *LogSink
	stream Stream
}

func (w *streamWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		w.sink.Append(w.stream, line)
	}
	return len(b), nil
}

// Flush waits until every line queued so far has been written.
func (s *LogSink) Flush() {
	s.cmx.RLock()
	defer s.cmx.RUnlock()
	if s.closed {
		return
	}
	for _, lf := range s.files() {
		lf.control(logEntry{})
	}
}

// Reopen closes and reopens every file, after draining what is queued.  Use
// this after an external tool has rotated the files.
func (s *LogSink) Reopen() error {
	s.cmx.RLock()
	defer s.cmx.RUnlock()
	if s.closed {
		return nil
	}
	s.setFailure(nil)
	for _, lf := range s.files() {
		lf.control(logEntry{reopen: true})
	}
	return s.Err()
}

// Close drains the queues and closes the files.  The sink must not be used
// afterwards, although late lines from a dying process are ignored.
func (s *LogSink) Close() {
	s.cmx.Lock()
	defer s.cmx.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, lf := range s.files() {
		if lf != nil {
			close(lf.queue)
			<-lf.done
		}
	}
}
