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
	"fmt"
	"time"
)

// ExitStatus is the result of polling a Handle.  While the process is alive
// Exited is false and the other fields are zero.  Code is -1 when the
// process was ended by a signal, in which case Signal names it.
type ExitStatus struct {
	Exited bool
	Code   int
	Signal string
	Time   time.Time
}

func (x ExitStatus) String() string {
	switch {
	case !x.Exited:
		return "running"
	case x.Signal != "":
		return "killed by " + x.Signal
	}
	return fmt.Sprintf("exit status %d", x.Code)
}

// Handle is a single launched OS process.  Applications should not need to
// implement this; it exists so that the supervisor can be driven by
// something other than real processes.
//
// Poll, Done and Terminate may be called concurrently with each other;
// the supervisor promises not to call the rest concurrently.
type Handle interface {
	// Pid returns the operating system process ID.
	Pid() int

	// Poll reports whether the process is still running.  It never
	// blocks.
	Poll() ExitStatus

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// MemoryBytes returns the resident memory of the process.  A
	// *ResourceQueryError is returned if the OS cannot tell.
	MemoryBytes() (uint64, error)

	// Terminate asks the process to stop, waits up to grace, and then
	// kills it.  It returns once the process is gone, and does nothing
	// if it has already exited.  A second call with a shorter grace
	// must still honor the shorter deadline.
	Terminate(grace time.Duration)
}

// Launcher starts processes.  Output from the process must be delivered to
// the LogSink, which may be shared across successive launches of the same
// worker.
type Launcher interface {
	Launch(spec *WorkerSpec, sink *LogSink) (Handle, error)
}

// LauncherFunc adapts an ordinary function to the Launcher interface.
type LauncherFunc func(spec *WorkerSpec, sink *LogSink) (Handle, error)

func (f LauncherFunc) Launch(spec *WorkerSpec, sink *LogSink) (Handle, error) {
	return f(spec, sink)
}
