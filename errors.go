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
)

var (
	ErrNoWorker      = errors.New("No such worker")
	ErrGivenUp       = errors.New("Worker gave up")
	ErrCrashLoop     = errors.New("Restarting too quickly")
	ErrNotRunning    = errors.New("Worker is not running")
	ErrPoolStarted   = errors.New("Pool already started")
	ErrShutdown      = errors.New("Pool is shut down")
	ErrDuplicateName = errors.New("Duplicate worker name")
	ErrDuplicatePort = errors.New("Duplicate worker port")
	ErrBadPort       = errors.New("Port out of range")
	ErrReservedName  = errors.New("Reserved worker name")
	ErrBadMemory     = errors.New("Bad memory ceiling")
	ErrMissingField  = errors.New("Missing required field")
)

// SpawnError is returned when a worker process cannot be launched at all,
// because the executable cannot be found or the working directory is bad.
// These are configuration problems, and are never retried automatically.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("Cannot spawn %s: %v", e.Name, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ResourceQueryError reports that the operating system could not tell us
// how much memory a process is using.  It is logged and otherwise ignored.
type ResourceQueryError struct {
	Pid int
	Err error
}

func (e *ResourceQueryError) Error() string {
	return fmt.Sprintf("Cannot query resources of pid %d: %v", e.Pid, e.Err)
}

func (e *ResourceQueryError) Unwrap() error {
	return e.Err
}

// LogWriteError records a failure to write a worker log file.  It shows up
// in the worker status, and never stops the worker.
type LogWriteError struct {
	Path string
	Err  error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("Cannot write log %s: %v", e.Path, e.Err)
}

func (e *LogWriteError) Unwrap() error {
	return e.Err
}

// ConfigError is fatal at load time.  Worker and Field are empty when the
// problem is with the document as a whole.
type ConfigError struct {
	Worker string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Worker != "" && e.Field != "":
		return fmt.Sprintf("Bad config for %s: %s: %v",
			e.Worker, e.Field, e.Err)
	case e.Worker != "":
		return fmt.Sprintf("Bad config for %s: %v", e.Worker, e.Err)
	case e.Field != "":
		return fmt.Sprintf("Bad config: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("Bad config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
