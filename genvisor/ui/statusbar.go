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
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/SahanWeerasiri/genvisor"
	"github.com/SahanWeerasiri/genvisor/genvisor/util"
	"github.com/SahanWeerasiri/genvisor/rest"
)

// Health is how much attention a worker, or the whole pool, needs.
type Health int

const (
	HealthIdle    Health = iota // stopped on purpose
	HealthGood                  // running
	HealthBusy                  // on its way up or down again
	HealthFailed                // given up, needs an operator
)

var (
	StatusBarStyleNormal = tcell.StyleDefault.
				Foreground(tcell.ColorBlack).
				Background(tcell.ColorSilver)
	StatusBarStyleGood = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorGreen).
				Bold(true)
	StatusBarStyleWarn = tcell.StyleDefault.
				Foreground(tcell.ColorBlack).
				Background(tcell.ColorYellow)
	StatusBarStyleError = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorMaroon).
				Bold(true)
)

// WorkerHealth maps the worker's phase.  A worker that is starting, has
// exited, is over its memory ceiling, or is waiting to restart is busy.
func WorkerHealth(w *rest.WorkerInfo) Health {
	switch w.Phase {
	case genvisor.PhaseGivenUp.String():
		return HealthFailed
	case genvisor.PhaseRunning.String():
		return HealthGood
	case genvisor.PhaseStopped.String():
		return HealthIdle
	}
	return HealthBusy
}

func (h Health) barStyle() tcell.Style {
	switch h {
	case HealthFailed:
		return StatusBarStyleError
	case HealthBusy:
		return StatusBarStyleWarn
	case HealthGood:
		return StatusBarStyleGood
	}
	return StatusBarStyleNormal
}

// rowStyle is used for the worker's line in the main list.
func (h Health) rowStyle() tcell.Style {
	switch h {
	case HealthFailed:
		return StyleError
	case HealthBusy:
		return StyleWarn
	case HealthGood:
		return StyleGood
	}
	return StyleNormal
}

// PoolSummary counts the workers of a pool by Health.
type PoolSummary struct {
	Total   int
	Failed  int
	Running int
	Busy    int
	Stopped int
}

func Summarize(ws []*rest.WorkerInfo) PoolSummary {
	s := PoolSummary{Total: len(ws)}
	for _, w := range ws {
		switch WorkerHealth(w) {
		case HealthFailed:
			s.Failed++
		case HealthGood:
			s.Running++
		case HealthBusy:
			s.Busy++
		default:
			s.Stopped++
		}
	}
	return s
}

// Health is that of the worst off worker.
func (s PoolSummary) Health() Health {
	switch {
	case s.Failed > 0:
		return HealthFailed
	case s.Busy > 0:
		return HealthBusy
	case s.Running > 0:
		return HealthGood
	}
	return HealthIdle
}

func (s PoolSummary) String() string {
	return fmt.Sprintf(
		"%5d Workers %5d Given up %5d Running %5d Restarting %5d Stopped",
		s.Total, s.Failed, s.Running, s.Busy, s.Stopped)
}

// StatusBar sits under the title and reports on whatever the screen is
// showing, colored by its Health.
type StatusBar struct {
	once   sync.Once
	text   string
	health Health
	views.SimpleStyledTextBar
}

func (sb *StatusBar) Init() {
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.show("", HealthIdle)
	})
}

func (sb *StatusBar) show(text string, h Health) {
	sb.text = text
	sb.health = h
	style := h.barStyle()
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(escape(text))
}

// SetWorker reports on a single worker.  An empty text shows what last
// happened to it, or its phase.
func (sb *StatusBar) SetWorker(w *rest.WorkerInfo, text string) {
	if text == "" {
		text = util.Detail(w)
	}
	if text == "" {
		text = w.Phase
	}
	sb.show(text, WorkerHealth(w))
}

// SetPool reports the worker counts.  If the last operator action failed,
// its error is appended.
func (sb *StatusBar) SetPool(s PoolSummary, last error) {
	text := s.String()
	if last != nil {
		text = fmt.Sprintf("%s  (%v)", text, last)
	}
	sb.show(text, s.Health())
}

// SetFault reports that the screen could not get its data.
func (sb *StatusBar) SetFault(text string) {
	sb.show(text, HealthFailed)
}

// SetMessage shows text with no particular health attached.
func (sb *StatusBar) SetMessage(text string) {
	sb.show(text, HealthIdle)
}

func (sb *StatusBar) Text() string {
	return sb.text
}

func (sb *StatusBar) Health() Health {
	return sb.health
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	return sb
}
