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

//go:build !windows

package genvisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func (p *Process) interrupt() error {
	return signalGroup(p.pid, unix.SIGTERM)
}

func (p *Process) kill() error {
	return signalGroup(p.pid, unix.SIGKILL)
}

// signalGroup signals every process in the group led by pid.  A group that
// is already gone is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	if e := unix.Kill(-pid, sig); e != nil && e != unix.ESRCH {
		return e
	}
	return nil
}

func exitSignal(ps *os.ProcessState) string {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return unix.SignalName(ws.Signal())
	}
	return ""
}

func executable(fi os.FileInfo) bool {
	return fi.Mode()&0111 != 0
}
