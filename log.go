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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of captured output, or one supervisor message.
type LogRecord struct {
	Id     int64     `json:"id,string"`
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// Log keeps the most recent lines logged for a worker (or for the whole
// pool) in memory, so that they can be served without reading log files.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// lock also initializes a zero value Log.
func (log *Log) lock() {
	log.mx.Lock()
	if log.maxRecords == 0 {
		log.maxRecords = MaxLogRecords
		log.cvs = make(map[*sync.Cond]bool)
		if log.id == 0 {
			log.id = time.Now().UnixNano()
		}
	}
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// Write implements the Writer interface consumed by Logger.  Lines written
// this way are attributed to the supervisor stream.
func (log *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	log.lock()
	for _, line := range strings.Split(str, "\n") {
		log.add(StreamSupervisor, line, time.Now())
	}
	log.wakeUp()
	log.unlock()
	return len(b), nil
}

// Append adds a single line from the given stream.
func (log *Log) Append(stream Stream, line string, when time.Time) {
	log.lock()
	log.add(stream, line, when)
	log.wakeUp()
	log.unlock()
}

// add must be called with the lock held.
func (log *Log) add(stream Stream, line string, when time.Time) {
	if log.records == nil {
		log.records = make([]LogRecord, log.maxRecords)
	}
	idx := log.numRecords % log.maxRecords
	log.id++
	log.records[idx] = LogRecord{
		Id:     log.id,
		Time:   when,
		Stream: stream.String(),
		Text:   line,
	}
	// NB: numRecords may actually be more than maxRecords.
	// In that case, we've looped, but we use this really to
	// track the next index.
	log.numRecords++
}

func (log *Log) wakeUp() {
	for cv := range log.cvs {
		cv.Broadcast()
	}
}

func (log *Log) Clear() {
	log.lock()
	log.numRecords = 0
	// We presume that we cannot add new records more quickly than
	// once every nanosecond.
	log.id = time.Now().UnixNano()
	log.wakeUp()
	log.unlock()
}

// GetRecords returns every record still held, oldest first, as well as an
// ID suitable for use as an Etag.  If last is the current ID the log has not
// changed, and nil is returned without copying anything.  Note that IDs are
// not unique across different Log instances.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// Watch waits for the log to change from the given ID, for up to expire.
// It returns the current ID.  An expire of zero is a poll.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.cvs[cv] = true
	for {
		if log.id != last || expired {
			break
		}
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log instance.
func NewLog() *Log {
	log := &Log{
		maxRecords: MaxLogRecords,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
	return log
}
