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

func TestBackoff(t *testing.T) {
	Convey("Backoff doubles up to the cap", t, func() {
		base := 100 * time.Millisecond
		max := time.Second
		So(Backoff(0, base, max), ShouldEqual, 0)
		So(Backoff(1, base, max), ShouldEqual, base)
		So(Backoff(2, base, max), ShouldEqual, 2*base)
		So(Backoff(3, base, max), ShouldEqual, 4*base)
		So(Backoff(4, base, max), ShouldEqual, 8*base)
		So(Backoff(5, base, max), ShouldEqual, max)
		So(Backoff(500, base, max), ShouldEqual, max)
		So(Backoff(3, 0, max), ShouldEqual, 0)
	})

	Convey("Without a cap backoff does not overflow", t, func() {
		d := Backoff(200, time.Second, 0)
		So(d, ShouldBeGreaterThan, 0)
	})
}

func TestRestartPolicy(t *testing.T) {
	spec := &WorkerSpec{
		RestartDelay:    time.Second,
		MaxRestartDelay: 4 * time.Second,
		MaxRestarts:     3,
		RestartWindow:   10 * time.Second,
	}

	Convey("Exits within the window give up", t, func() {
		p := NewRestartPolicy(spec)
		now := time.Now()
		d := p.Decide(now, 1)
		So(d.Action, ShouldEqual, ActionRestartAfterDelay)
		So(d.Delay, ShouldEqual, time.Second)
		d = p.Decide(now.Add(time.Second), 2)
		So(d.Action, ShouldEqual, ActionRestartAfterDelay)
		So(d.Delay, ShouldEqual, 2*time.Second)
		d = p.Decide(now.Add(2*time.Second), 3)
		So(d.Action, ShouldEqual, ActionStop)
		So(d.String(), ShouldEqual, "stop")
	})

	Convey("Exits spread over more than the window keep going", t, func() {
		p := NewRestartPolicy(spec)
		now := time.Now()
		for i := 0; i < 10; i++ {
			d := p.Decide(now.Add(time.Duration(i)*6*time.Second), i+1)
			So(d.Action, ShouldNotEqual, ActionStop)
		}
		d := p.Decide(now.Add(60*time.Second), 11)
		So(d.Delay, ShouldEqual, 4*time.Second)
		So(d.String(), ShouldEqual, "restart-after-delay(4s)")
	})

	Convey("Reset forgets the history", t, func() {
		p := NewRestartPolicy(spec)
		now := time.Now()
		p.Decide(now, 1)
		p.Decide(now, 2)
		p.Reset()
		So(p.Decide(now, 1).Action, ShouldNotEqual, ActionStop)
		So(p.Decide(now, 2).Action, ShouldNotEqual, ActionStop)
		So(p.Decide(now, 3).Action, ShouldEqual, ActionStop)
	})

	Convey("A zero threshold never gives up", t, func() {
		p := NewRestartPolicy(&WorkerSpec{})
		now := time.Now()
		for i := 0; i < 100; i++ {
			d := p.Decide(now, i+1)
			So(d.Action, ShouldEqual, ActionRestart)
		}
	})
}
