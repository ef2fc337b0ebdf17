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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/SahanWeerasiri/genvisor/rest"
)

// Status is a one word description of the worker, suitable for columns.
func Status(w *rest.WorkerInfo) string {
	return w.Phase
}

// Detail describes the last thing that happened to the worker.
func Detail(w *rest.WorkerInfo) string {
	switch {
	case w.Error != "":
		return w.Error
	case w.LogError != "":
		return "log: " + w.LogError
	case w.LastExit == "":
		return ""
	case w.LastReason != "" && w.LastReason != "exit":
		return fmt.Sprintf("%s (%s)", w.LastExit, w.LastReason)
	}
	return w.LastExit
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

// FormatMemory renders a byte count the way ecosystem files write it.
func FormatMemory(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(b)/float64(div), "KMGT"[exp])
}

type sorted []*rest.WorkerInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if a.Failed() != b.Failed() {
		// put failed items at front
		return a.Failed()
	}
	if a.Running() != b.Running() {
		// then anything that is not running
		return !a.Running()
	}
	return false
}

// SortWorkers puts workers needing attention first, otherwise keeping
// declaration order.
func SortWorkers(items []*rest.WorkerInfo) {
	sort.Stable(sorted(items))
}
