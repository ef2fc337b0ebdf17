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

// Package genvisor supervises a fixed pool of long-running worker processes
// on a single host.  Each worker is declared once, in an ecosystem file, with
// its command, working directory, environment (including the network port
// and worker identifier it must serve on), memory ceiling and log files.
//
// A Pool owns one Worker per declaration.  Each Worker runs its own
// monitoring goroutine which launches the process, samples its liveness and
// resident memory on a fixed interval, and consults a RestartPolicy when the
// process exits or outgrows its ceiling.  Workers that crash too often
// within a window give up and stay down until an operator starts them again.
//
// This is not a replacement for init, systemd or a container orchestrator.
// The intent is to keep a handful of application servers alive as part of
// an application deployment, in the spirit of supervisord or pm2.
//
// The rest package exposes a Pool over HTTP, and the journal package keeps
// a durable history of lifecycle events.
package genvisor
