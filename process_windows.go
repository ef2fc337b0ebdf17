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

//go:build windows

package genvisor

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {
}

// Windows has no SIGTERM to deliver, so interrupting is the same as killing.
func (p *Process) interrupt() error {
	return p.cmd.Process.Kill()
}

func (p *Process) kill() error {
	return p.cmd.Process.Kill()
}

func exitSignal(ps *os.ProcessState) string {
	return ""
}

func executable(fi os.FileInfo) bool {
	return true
}
