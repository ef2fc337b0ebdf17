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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogRing(t *testing.T) {
	Convey("Given a log", t, func() {
		l := NewLog()
		recs, id := l.GetRecords(0)
		So(len(recs), ShouldEqual, 0)

		Convey("Records come back in order with an etag", func() {
			l.Append(StreamStdout, "one", time.Now())
			l.Write([]byte("two\nthree\n"))
			recs, nid := l.GetRecords(id)
			So(nid, ShouldNotEqual, id)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[0].Stream, ShouldEqual, "out")
			So(recs[2].Text, ShouldEqual, "three")
			So(recs[2].Stream, ShouldEqual, "sup")

			again, same := l.GetRecords(nid)
			So(again, ShouldBeNil)
			So(same, ShouldEqual, nid)
		})

		Convey("Only the most recent records are kept", func() {
			for i := 0; i < MaxLogRecords+10; i++ {
				l.Append(StreamStdout, "x", time.Now())
			}
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, MaxLogRecords)
			So(recs[len(recs)-1].Id-recs[0].Id, ShouldEqual, MaxLogRecords-1)
		})

		Convey("Watch wakes up on a change", func() {
			go func() {
				time.Sleep(20 * time.Millisecond)
				l.Append(StreamStderr, "wake", time.Now())
			}()
			nid := l.Watch(id, 5*time.Second)
			So(nid, ShouldNotEqual, id)
		})

		Convey("Watch times out", func() {
			start := time.Now()
			So(l.Watch(id, 20*time.Millisecond), ShouldEqual, id)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 20*time.Millisecond)
		})

		Convey("Clear empties the log", func() {
			l.Append(StreamStdout, "x", time.Now())
			l.Clear()
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, 0)
		})
	})
}

func TestLogZeroValue(t *testing.T) {
	Convey("A zero Log is usable", t, func() {
		var l Log
		recs, id := l.GetRecords(-1)
		So(len(recs), ShouldEqual, 0)
		So(id, ShouldNotEqual, 0)

		l.Append(StreamStdout, "one", time.Now())
		So(l.Watch(id, 0), ShouldNotEqual, id)
		recs, nid := l.GetRecords(id)
		So(len(recs), ShouldEqual, 1)

		l.Append(StreamStdout, "two", time.Now())
		recs, _ = l.GetRecords(nid)
		So(len(recs), ShouldEqual, 2)
		So(recs[0].Text, ShouldEqual, "one")
	})
}
