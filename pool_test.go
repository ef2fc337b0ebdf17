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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func WithPool(t *testing.T, name string, fn func(p *Pool, l *testL)) func() {
	return func() {
		p := NewPool(name)
		So(p, ShouldNotBeNil)
		p.SetLogger(testLogger(t))
		p.SetStagger(0)
		l := newTestL()
		p.SetLauncher(l)
		Reset(func() {
			p.Shutdown(0)
		})
		fn(p, l)
	}
}

func TestPoolLoadAndStart(t *testing.T) {
	Convey("Two workers on distinct ports", t,
		WithPool(t, "TwoWorkers", func(p *Pool, l *testL) {
			specs := []WorkerSpec{
				testSpec("genapp-server-1", 5001),
				testSpec("genapp-server-2", 5002),
			}
			So(p.LoadAndStart(context.Background(), specs), ShouldBeNil)

			st := p.Status()
			So(len(st), ShouldEqual, 2)
			So(st[0].Name, ShouldEqual, "genapp-server-1")
			So(st[1].Name, ShouldEqual, "genapp-server-2")
			So(st[0].Phase, ShouldEqual, PhaseRunning)
			So(st[1].Phase, ShouldEqual, PhaseRunning)
			So(st[0].Pid, ShouldNotEqual, st[1].Pid)
			So(st[0].Port, ShouldEqual, 5001)
			So(st[1].Port, ShouldEqual, 5002)
			So(p.Names(), ShouldResemble, []string{"genapp-server-1", "genapp-server-2"})

			Convey("The pool cannot be loaded twice", func() {
				e := p.LoadAndStart(context.Background(), specs)
				So(e, ShouldEqual, ErrPoolStarted)
			})

			Convey("Workers can be found by name", func() {
				w, e := p.Worker("genapp-server-2")
				So(e, ShouldBeNil)
				So(w.Spec().Env["PORT"], ShouldEqual, "5002")
				_, e = p.Worker("nosuch")
				So(e, ShouldEqual, ErrNoWorker)
			})
		}))
}

func TestPoolDuplicates(t *testing.T) {
	Convey("Duplicate names are a config error", t,
		WithPool(t, "Duplicates", func(p *Pool, l *testL) {
			specs := []WorkerSpec{
				testSpec("dup", 5001),
				testSpec("dup", 5002),
			}
			e := p.LoadAndStart(context.Background(), specs)
			So(e, ShouldNotBeNil)
			var ce *ConfigError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(errors.Is(e, ErrDuplicateName), ShouldBeTrue)
			So(l.count("dup"), ShouldEqual, 0)
			So(len(p.Status()), ShouldEqual, 0)
		}))

	Convey("Duplicate ports are a config error", t,
		WithPool(t, "DupPorts", func(p *Pool, l *testL) {
			specs := []WorkerSpec{
				testSpec("a", 5001),
				testSpec("b", 5001),
			}
			e := p.LoadAndStart(context.Background(), specs)
			So(errors.Is(e, ErrDuplicatePort), ShouldBeTrue)
		}))
}

func TestPoolGivenUpIsolation(t *testing.T) {
	Convey("A worker giving up does not affect the others", t,
		WithPool(t, "Isolation", func(p *Pool, l *testL) {
			l.setFail("broken")
			specs := []WorkerSpec{
				testSpec("broken", 5001),
				testSpec("fine", 5002),
			}
			e := p.LoadAndStart(context.Background(), specs)
			So(errors.Is(e, ErrGivenUp), ShouldBeTrue)
			So(e.Error(), ShouldContainSubstring, "broken")

			st := p.Status()
			So(st[0].Phase, ShouldEqual, PhaseGivenUp)
			So(st[1].Phase, ShouldEqual, PhaseRunning)
		}))
}

func TestPoolStagger(t *testing.T) {
	Convey("Workers start in order with a stagger", t,
		WithPool(t, "Stagger", func(p *Pool, l *testL) {
			p.SetStagger(50 * time.Millisecond)
			specs := []WorkerSpec{
				testSpec("s1", 5001),
				testSpec("s2", 5002),
				testSpec("s3", 5003),
			}
			So(p.LoadAndStart(context.Background(), specs), ShouldBeNil)
			st := p.Status()
			So(st[1].StartTime.Sub(st[0].StartTime), ShouldBeGreaterThanOrEqualTo, 40*time.Millisecond)
			So(st[2].StartTime.Sub(st[1].StartTime), ShouldBeGreaterThanOrEqualTo, 40*time.Millisecond)
		}))

	Convey("A cancelled context stops the startup sequence", t,
		WithPool(t, "Cancel", func(p *Pool, l *testL) {
			p.SetStagger(time.Hour)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			specs := []WorkerSpec{
				testSpec("c1", 5001),
				testSpec("c2", 5002),
			}
			e := p.LoadAndStart(ctx, specs)
			So(e, ShouldEqual, context.Canceled)
			st := p.Status()
			So(st[0].Phase, ShouldEqual, PhaseRunning)
			So(st[1].Phase, ShouldEqual, PhaseStopped)
		}))

	Convey("Stopping during startup holds the remaining workers", t,
		WithPool(t, "StopDuringStart", func(p *Pool, l *testL) {
			p.SetStagger(200 * time.Millisecond)
			specs := []WorkerSpec{
				testSpec("h1", 5001),
				testSpec("h2", 5002),
				testSpec("h3", 5003),
			}
			done := make(chan error, 1)
			go func() {
				done <- p.LoadAndStart(context.Background(), specs)
			}()
			So(eventually(time.Second, func() bool {
				return l.count("h1") == 1
			}), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)

			So(p.Stop(AllWorkers, 0), ShouldBeNil)
			So(<-done, ShouldBeNil)
			for _, st := range p.Status() {
				So(st.Phase, ShouldEqual, PhaseStopped)
			}
			So(l.count("h1"), ShouldEqual, 1)
			So(l.count("h2"), ShouldEqual, 0)
			So(l.count("h3"), ShouldEqual, 0)

			Convey("An explicit start still works", func() {
				So(p.Start("h3"), ShouldBeNil)
				So(p.Status()[2].Phase, ShouldEqual, PhaseRunning)
				So(p.Status()[1].Phase, ShouldEqual, PhaseStopped)
			})
		}))
}

func TestPoolStop(t *testing.T) {
	Convey("Stopping the pool", t,
		WithPool(t, "Stop", func(p *Pool, l *testL) {
			specs := []WorkerSpec{
				testSpec("x1", 5001),
				testSpec("x2", 5002),
				testSpec("x3", 5003),
			}
			So(p.LoadAndStart(context.Background(), specs), ShouldBeNil)

			Convey("Unknown workers are an error", func() {
				So(p.Stop("nosuch", time.Second), ShouldEqual, ErrNoWorker)
			})

			Convey("One worker can be stopped", func() {
				So(p.Stop("x2", time.Second), ShouldBeNil)
				st := p.Status()
				So(st[0].Phase, ShouldEqual, PhaseRunning)
				So(st[1].Phase, ShouldEqual, PhaseStopped)
				So(st[2].Phase, ShouldEqual, PhaseRunning)

				So(p.Start("x2"), ShouldBeNil)
				So(p.Status()[1].Phase, ShouldEqual, PhaseRunning)
			})

			Convey("Stop all is idempotent", func() {
				So(p.Stop(AllWorkers, time.Second), ShouldBeNil)
				So(p.Stop(AllWorkers, time.Second), ShouldBeNil)
				for _, st := range p.Status() {
					So(st.Phase, ShouldEqual, PhaseStopped)
				}
			})

			Convey("Restart all gives new processes", func() {
				before := p.Status()
				So(p.Restart(AllWorkers, time.Second), ShouldBeNil)
				after := p.Status()
				for i := range after {
					So(after[i].Phase, ShouldEqual, PhaseRunning)
					So(after[i].Pid, ShouldNotEqual, before[i].Pid)
				}
			})
		}))
}

func TestPoolStopForceKill(t *testing.T) {
	Convey("Stop all kills workers that ignore the signal", t,
		WithPool(t, "ForceKill", func(p *Pool, l *testL) {
			l.setSetup(func(spec *WorkerSpec, n int, h *testH) {
				h.ignoreTerm = true
			})
			specs := []WorkerSpec{
				testSpec("k1", 5001),
				testSpec("k2", 5002),
				testSpec("k3", 5003),
			}
			So(p.LoadAndStart(context.Background(), specs), ShouldBeNil)

			grace := 300 * time.Millisecond
			start := time.Now()
			So(p.Stop(AllWorkers, grace), ShouldBeNil)
			elapsed := time.Since(start)
			So(elapsed, ShouldBeGreaterThanOrEqualTo, grace)
			// Concurrent, so nowhere near three times the grace.
			So(elapsed, ShouldBeLessThan, 2*grace)
			for _, st := range p.Status() {
				So(st.Phase, ShouldEqual, PhaseStopped)
				So(st.LastExit.Signal, ShouldEqual, "SIGKILL")
			}
		}))
}

func TestPoolSerial(t *testing.T) {
	Convey("State changes bump the serial", t,
		WithPool(t, "Serial", func(p *Pool, l *testL) {
			So(p.LoadAndStart(context.Background(), []WorkerSpec{
				testSpec("z1", 5001),
			}), ShouldBeNil)
			old := p.Serial()
			So(p.WatchSerial(old, 0), ShouldEqual, old)

			done := make(chan int64, 1)
			go func() {
				done <- p.WatchSerial(old, 5*time.Second)
			}()
			time.Sleep(20 * time.Millisecond)
			So(p.Stop("z1", time.Second), ShouldBeNil)
			var nsn int64
			select {
			case nsn = <-done:
			case <-time.After(5 * time.Second):
			}
			So(nsn, ShouldNotEqual, old)
			So(nsn, ShouldNotEqual, 0)

			info := p.GetInfo()
			So(info.Name, ShouldEqual, "Serial")
			So(info.Workers, ShouldEqual, 1)
			So(info.Serial, ShouldBeGreaterThanOrEqualTo, nsn)
		}))
}

func TestPoolLog(t *testing.T) {
	Convey("Worker messages reach the pool log", t,
		WithPool(t, "PoolLog", func(p *Pool, l *testL) {
			So(p.LoadAndStart(context.Background(), []WorkerSpec{
				testSpec("logger", 5001),
			}), ShouldBeNil)
			recs, id := p.GetLog(0)
			So(len(recs), ShouldBeGreaterThan, 0)
			found := false
			for _, r := range recs {
				if r.Stream == "sup" && len(r.Text) > 9 && r.Text[:9] == "[logger] " {
					found = true
				}
			}
			So(found, ShouldBeTrue)
			So(p.WatchLog(id, 0), ShouldEqual, id)
		}))
}

func TestPoolShutdown(t *testing.T) {
	Convey("A shut down pool cannot be started", t, func() {
		p := NewPool("Shutdown")
		p.SetLogger(testLogger(t))
		p.SetLauncher(newTestL())
		p.Shutdown(0)
		e := p.LoadAndStart(context.Background(), []WorkerSpec{testSpec("n", 5001)})
		So(e, ShouldEqual, ErrShutdown)
		p.Shutdown(0)
	})
}
