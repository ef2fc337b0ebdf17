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

package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/SahanWeerasiri/genvisor/rest"
)

func TestInfoLines(t *testing.T) {
	Convey("A running worker shows its process", t, func() {
		w := &rest.WorkerInfo{
			Name:        "web-1",
			Phase:       "running",
			Pid:         4242,
			Port:        5001,
			WorkerID:    "web",
			Command:     "/usr/bin/node",
			Args:        []string{"server.js"},
			Uptime:      90,
			Restarts:    1,
			Memory:      64 << 20,
			MemoryLimit: 1 << 30,
			Since:       time.Now(),
		}
		evs := []rest.Event{
			{Worker: "web-1", Type: "started", Pid: 4242, Time: time.Now()},
		}
		text := strings.Join(InfoLines(w, evs), "\n")
		So(text, ShouldContainSubstring, "Pid: 4242")
		So(text, ShouldContainSubstring, "Port: 5001")
		So(text, ShouldContainSubstring, "Uptime: 0:01:30")
		So(text, ShouldContainSubstring, "64.0M")
		So(text, ShouldContainSubstring, "Memory limit: 1.0G")
		So(text, ShouldContainSubstring, "Recent events:")
		So(text, ShouldContainSubstring, "pid 4242")
	})

	Convey("A stopped worker has no pid or uptime", t, func() {
		w := &rest.WorkerInfo{Name: "web-2", Phase: "stopped", LastExit: "exit status 0"}
		text := strings.Join(InfoLines(w, nil), "\n")
		So(text, ShouldNotContainSubstring, "Pid:")
		So(text, ShouldNotContainSubstring, "Uptime:")
		So(text, ShouldContainSubstring, "Last exit: exit status 0")
		So(text, ShouldNotContainSubstring, "Recent events")
	})
}

func TestActionKeys(t *testing.T) {
	Convey("Keys follow the worker phase", t, func() {
		So(actionKeys(&rest.WorkerInfo{Phase: "running"}),
			ShouldResemble, []string{"[K] Stop", "[R] Restart"})
		So(actionKeys(&rest.WorkerInfo{Phase: "stopped"}),
			ShouldResemble, []string{"[S] Start", "[R] Restart"})
		So(actionKeys(&rest.WorkerInfo{Phase: "given-up"}),
			ShouldResemble, []string{"[S] Start", "[K] Stop", "[R] Restart"})
	})
	Convey("Percent signs are escaped", t, func() {
		So(escape("100%"), ShouldEqual, "100%%")
		So(streamTag("err"), ShouldEqual, "! ")
		So(streamTag("sup"), ShouldEqual, "* ")
		So(streamTag("out"), ShouldEqual, "  ")
	})
}

func TestWorkerHealth(t *testing.T) {
	Convey("Each phase maps to a health", t, func() {
		for phase, h := range map[string]Health{
			"given-up":        HealthFailed,
			"restarting":      HealthBusy,
			"memory-exceeded": HealthBusy,
			"starting":        HealthBusy,
			"exited":          HealthBusy,
			"running":         HealthGood,
			"stopped":         HealthIdle,
		} {
			So(WorkerHealth(&rest.WorkerInfo{Phase: phase}), ShouldEqual, h)
		}
		So(HealthFailed.barStyle(), ShouldResemble, StatusBarStyleError)
		So(HealthBusy.barStyle(), ShouldResemble, StatusBarStyleWarn)
		So(HealthGood.barStyle(), ShouldResemble, StatusBarStyleGood)
		So(HealthIdle.rowStyle(), ShouldResemble, StyleNormal)
	})

	Convey("The pool is as healthy as its worst worker", t, func() {
		ws := []*rest.WorkerInfo{
			{Name: "a", Phase: "running"},
			{Name: "b", Phase: "restarting"},
			{Name: "c", Phase: "stopped"},
		}
		s := Summarize(ws)
		So(s, ShouldResemble, PoolSummary{Total: 3, Running: 1, Busy: 1, Stopped: 1})
		So(s.Health(), ShouldEqual, HealthBusy)

		ws = append(ws, &rest.WorkerInfo{Name: "d", Phase: "given-up"})
		So(Summarize(ws).Health(), ShouldEqual, HealthFailed)
		So(Summarize(ws[:1]).Health(), ShouldEqual, HealthGood)
		So(Summarize(nil).Health(), ShouldEqual, HealthIdle)
	})
}

func TestStatusBar(t *testing.T) {
	Convey("Given a status bar", t, func() {
		sb := NewStatusBar()
		So(sb.Health(), ShouldEqual, HealthIdle)

		Convey("A worker shows its last exit", func() {
			sb.SetWorker(&rest.WorkerInfo{
				Phase:      "restarting",
				LastExit:   "exit status 1",
				LastReason: "exit",
			}, "")
			So(sb.Text(), ShouldEqual, "exit status 1")
			So(sb.Health(), ShouldEqual, HealthBusy)
		})

		Convey("A worker with no history shows its phase", func() {
			sb.SetWorker(&rest.WorkerInfo{Phase: "running"}, "")
			So(sb.Text(), ShouldEqual, "running")
			So(sb.Health(), ShouldEqual, HealthGood)
		})

		Convey("Explicit text keeps the worker's health", func() {
			sb.SetWorker(&rest.WorkerInfo{Phase: "given-up"}, "12 lines")
			So(sb.Text(), ShouldEqual, "12 lines")
			So(sb.Health(), ShouldEqual, HealthFailed)
		})

		Convey("The pool shows counts and the last action error", func() {
			sb.SetPool(PoolSummary{Total: 2, Running: 2}, errors.New("denied"))
			So(sb.Text(), ShouldContainSubstring, "2 Workers")
			So(sb.Text(), ShouldEndWith, "(denied)")
			So(sb.Health(), ShouldEqual, HealthGood)
		})

		Convey("Faults are errors", func() {
			sb.SetFault("No data")
			So(sb.Health(), ShouldEqual, HealthFailed)
			sb.SetMessage("Loading...")
			So(sb.Health(), ShouldEqual, HealthIdle)
		})
	})
}

func TestTitleBar(t *testing.T) {
	Convey("The title names the server and the worker", t, func() {
		tb := NewTitleBar("http://127.0.0.1:8321/", "Genvisor v1.0")
		So(tb.server, ShouldEqual, "127.0.0.1:8321")
		So(tb.Title(), ShouldEqual, "")

		tb.SetScreen("Workers", "")
		So(tb.Title(), ShouldEqual, "Workers")
		tb.SetScreen("Log for", "web-1")
		So(tb.Title(), ShouldEqual, "Log for web-1")
	})
}
