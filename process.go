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
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// killWait bounds how long we wait for the kernel to reap a process after
// it has been sent an uncatchable kill.
const killWait = 5 * time.Second

// MaxLineLength is the longest line of worker output kept as one record.
const MaxLineLength = 64 * 1024

// baseEnv lists the variables inherited from the supervisor.  Everything
// else a worker sees comes from its WorkerSpec.
var baseEnv = []string{
	"PATH",
	"HOME",
	"USER",
	"LOGNAME",
	"SHELL",
	"LANG",
	"LC_ALL",
	"TZ",
	"TMPDIR",
	// Windows needs these to do much of anything.
	"SYSTEMROOT",
	"SYSTEMDRIVE",
	"WINDIR",
	"COMSPEC",
	"PATHEXT",
	"TEMP",
	"TMP",
}

// Process is a Handle for an actual operating system process, started with
// os/exec.  The process is placed in its own process group, so that
// termination reaches any children it forks (for example when the command
// is a shell wrapper).
type Process struct {
	name   string
	cmd    *exec.Cmd
	pid    int
	logger *log.Logger
	done   chan struct{}
	status ExitStatus
	lock   sync.Mutex
}

// ExecLauncher launches real processes.  It is the Launcher used by a Pool
// unless another is configured.
type ExecLauncher struct{}

func (ExecLauncher) Launch(spec *WorkerSpec, sink *LogSink) (Handle, error) {
	return StartProcess(spec, sink)
}

// StartProcess launches the worker described by spec, with stdout and stderr
// delivered to sink.  A *SpawnError is returned if the working directory or
// the executable is unusable.
func StartProcess(spec *WorkerSpec, sink *LogSink) (*Process, error) {
	path, e := resolveCommand(spec)
	if e != nil {
		return nil, &SpawnError{Name: spec.Name, Err: e}
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)
	setProcAttr(cmd)

	// We use our own pipes rather than StdoutPipe, so that reaping the
	// process never waits for a grandchild that still holds the pipe.
	outr, outw, e := os.Pipe()
	if e != nil {
		return nil, &SpawnError{Name: spec.Name, Err: e}
	}
	errr, errw, e := os.Pipe()
	if e != nil {
		outr.Close()
		outw.Close()
		return nil, &SpawnError{Name: spec.Name, Err: e}
	}
	cmd.Stdout = outw
	cmd.Stderr = errw

	e = cmd.Start()
	outw.Close()
	errw.Close()
	if e != nil {
		outr.Close()
		errr.Close()
		return nil, &SpawnError{Name: spec.Name, Err: e}
	}

	p := &Process{
		name:   spec.Name,
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		logger: sink.Logger(),
		done:   make(chan struct{}),
	}
	go p.doLog(outr, StreamStdout, sink)
	go p.doLog(errr, StreamStderr, sink)
	go p.doWait()
	return p, nil
}

func (p *Process) doLog(r io.ReadCloser, stream Stream, sink *LogSink) {
	defer r.Close()
	scanLines(r, MaxLineLength, func(line string) {
		sink.Append(stream, line)
	})
}

// scanLines calls fn for each line read from r, without the line ending.
// Lines longer than max are delivered in pieces of max bytes, and a final
// line without a newline is delivered when r reaches EOF.
func scanLines(r io.Reader, max int, fn func(string)) {
	reader := bufio.NewReaderSize(r, max)
	for {
		b, e := reader.ReadSlice('\n')
		if len(b) != 0 {
			fn(strings.TrimRight(string(b), "\r\n"))
		}
		if e != nil && e != bufio.ErrBufferFull {
			return
		}
	}
}

func (p *Process) doWait() {
	e := p.cmd.Wait()
	st := ExitStatus{Exited: true, Time: time.Now()}
	if ps := p.cmd.ProcessState; ps != nil {
		st.Code = ps.ExitCode()
		st.Signal = exitSignal(ps)
	} else if e != nil {
		st.Code = -1
	}
	p.lock.Lock()
	p.status = st
	p.lock.Unlock()
	close(p.done)
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Poll() ExitStatus {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.status
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) MemoryBytes() (uint64, error) {
	if p.Poll().Exited {
		return 0, &ResourceQueryError{Pid: p.pid, Err: ErrNotRunning}
	}
	n, e := processMemory(p.pid)
	if e != nil {
		return 0, &ResourceQueryError{Pid: p.pid, Err: e}
	}
	return n, nil
}

// Terminate sends SIGTERM (or the platform equivalent) to the process
// group, and kills the group if it is still around after grace.  A grace
// of zero kills straight away.
func (p *Process) Terminate(grace time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}
	if grace > 0 {
		if e := p.interrupt(); e != nil {
			p.logf("Failed sending SIGTERM to %d: %v", p.pid, e)
		}
		timer := time.NewTimer(grace)
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		p.logf("Graceful shutdown of %d timed out", p.pid)
	}
	if e := p.kill(); e != nil {
		p.logf("Failed killing %d: %v", p.pid, e)
	}
	select {
	case <-p.done:
	case <-time.After(killWait):
		p.logf("Process %d did not exit after kill", p.pid)
	}
}

func (p *Process) logf(format string, v ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, v...)
	}
}

func buildEnv(env map[string]string) []string {
	merged := make(map[string]string, len(env)+len(baseEnv))
	for _, k := range baseEnv {
		if v, ok := os.LookupEnv(k); ok {
			merged[k] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rv := make([]string, 0, len(keys))
	for _, k := range keys {
		rv = append(rv, k+"="+merged[k])
	}
	return rv
}

// resolveCommand checks the working directory and finds the executable.
// Commands containing a path separator are taken relative to the working
// directory; bare names are looked up in PATH.
func resolveCommand(spec *WorkerSpec) (string, error) {
	if spec.Dir != "" {
		fi, e := os.Stat(spec.Dir)
		if e != nil {
			return "", e
		}
		if !fi.IsDir() {
			return "", fmt.Errorf("%s is not a directory", spec.Dir)
		}
	}
	if spec.Command == "" {
		return "", ErrMissingField
	}
	name := spec.Command
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		if !filepath.IsAbs(name) {
			name = filepath.Join(spec.Dir, name)
		}
		abs, e := filepath.Abs(name)
		if e != nil {
			return "", e
		}
		fi, e := os.Stat(abs)
		if e != nil {
			return "", e
		}
		if fi.IsDir() || !executable(fi) {
			return "", fmt.Errorf("%s is not executable", abs)
		}
		return abs, nil
	}
	// This also refuses names that only resolve through "." in PATH.
	path, e := exec.LookPath(name)
	if e != nil {
		return "", e
	}
	return path, nil
}
