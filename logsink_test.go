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
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func readLines(path string) []string {
	b, e := os.ReadFile(path)
	if e != nil {
		return nil
	}
	return strings.Split(strings.TrimRight(string(b), "\n"), "\n")
}

func TestLogSink(t *testing.T) {
	Convey("Given a log sink with three files", t, func() {
		dir := t.TempDir()
		spec := &WorkerSpec{
			OutFile:      filepath.Join(dir, "w-out.log"),
			ErrFile:      filepath.Join(dir, "w-error.log"),
			CombinedFile: filepath.Join(dir, "logs", "w.log"),
		}
		s := NewLogSink(spec)
		Reset(s.Close)
		So(s.Err(), ShouldBeNil)

		Convey("Lines land in order in the right files", func() {
			s.Append(StreamStdout, "A")
			s.Append(StreamStderr, "oops")
			s.Append(StreamStdout, "B")
			fmt.Fprintf(s.Writer(StreamSupervisor), "restarting\n")
			s.Flush()

			So(readLines(spec.OutFile), ShouldResemble, []string{"A", "B"})
			So(readLines(spec.ErrFile), ShouldResemble, []string{"oops"})

			all := readLines(spec.CombinedFile)
			So(len(all), ShouldEqual, 4)
			So(all[0], ShouldEndWith, ": [out] A")
			So(all[1], ShouldEndWith, ": [err] oops")
			So(all[2], ShouldEndWith, ": [out] B")
			So(all[3], ShouldEndWith, ": [sup] restarting")

			recs, _ := s.Ring().GetRecords(0)
			So(len(recs), ShouldEqual, 4)
			So(recs[1].Stream, ShouldEqual, "err")
			So(recs[1].Text, ShouldEqual, "oops")
		})

		Convey("Many lines keep their order", func() {
			for i := 0; i < 500; i++ {
				s.Append(StreamStdout, fmt.Sprintf("line %d", i))
			}
			s.Flush()
			lines := readLines(spec.OutFile)
			So(len(lines)+int(s.Dropped()), ShouldEqual, 500)
			last := -1
			for _, l := range lines {
				var n int
				fmt.Sscanf(l, "line %d", &n)
				So(n, ShouldBeGreaterThan, last)
				last = n
			}
		})

		Convey("Files are appended to, never truncated", func() {
			s.Append(StreamStdout, "first")
			s.Close()
			s2 := NewLogSink(spec)
			s2.Append(StreamStdout, "second")
			s2.Close()
			So(readLines(spec.OutFile), ShouldResemble, []string{"first", "second"})
		})

		Convey("Reopen follows a rotated file", func() {
			s.Append(StreamStdout, "old")
			s.Flush()
			So(os.Rename(spec.OutFile, spec.OutFile+".1"), ShouldBeNil)
			So(s.Reopen(), ShouldBeNil)
			s.Append(StreamStdout, "new")
			s.Flush()
			So(readLines(spec.OutFile+".1"), ShouldResemble, []string{"old"})
			So(readLines(spec.OutFile), ShouldResemble, []string{"new"})
		})

		Convey("Use after close is harmless", func() {
			s.Close()
			s.Append(StreamStdout, "late")
			s.Flush()
			So(s.Reopen(), ShouldBeNil)
		})
	})

	Convey("Timestamps on the single stream files", t, func() {
		dir := t.TempDir()
		spec := &WorkerSpec{
			OutFile:    filepath.Join(dir, "out.log"),
			Timestamps: true,
		}
		s := NewLogSink(spec)
		s.Append(StreamStdout, "hello")
		s.Close()
		lines := readLines(spec.OutFile)
		So(len(lines), ShouldEqual, 1)
		So(lines[0], ShouldEndWith, ": hello")
		So(lines[0], ShouldNotContainSubstring, "[out]")
	})

	Convey("Unwritable files are reported, not fatal", t, func() {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		So(os.WriteFile(blocker, nil, 0644), ShouldBeNil)
		spec := &WorkerSpec{
			OutFile: filepath.Join(blocker, "out.log"),
		}
		s := NewLogSink(spec)
		defer s.Close()
		e := s.Err()
		So(e, ShouldNotBeNil)
		var lwe *LogWriteError
		So(errors.As(e, &lwe), ShouldBeTrue)
		So(lwe.Path, ShouldEqual, spec.OutFile)
		s.Append(StreamStdout, "nowhere")
		s.Flush()
	})
}

func TestScanLines(t *testing.T) {
	collect := func(in string, max int) []string {
		var lines []string
		scanLines(strings.NewReader(in), max, func(s string) {
			lines = append(lines, s)
		})
		return lines
	}

	Convey("Short lines come back whole", t, func() {
		So(collect("one\r\ntwo\n", 16), ShouldResemble, []string{"one", "two"})
	})

	Convey("A trailing partial line is flushed at EOF", t, func() {
		So(collect("one\ntail", 16), ShouldResemble, []string{"one", "tail"})
	})

	Convey("Long lines are split at the limit", t, func() {
		long := strings.Repeat("a", 40)
		lines := collect(long+"\nend\n", 16)
		So(lines, ShouldResemble, []string{
			strings.Repeat("a", 16),
			strings.Repeat("a", 16),
			strings.Repeat("a", 8),
			"end",
		})
	})

	Convey("An unterminated flood is still bounded", t, func() {
		lines := collect(strings.Repeat("b", 100), 16)
		So(len(lines), ShouldEqual, 7)
		for _, l := range lines {
			So(len(l), ShouldBeLessThanOrEqualTo, 16)
		}
	})
}
