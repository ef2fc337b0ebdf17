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
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

// TitleBar names the supervisor on the left, the screen (and the worker it
// is about, highlighted) in the center, and the client on the right.
type TitleBar struct {
	once   sync.Once
	server string
	screen string
	worker string
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		normal := tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
		worker := tcell.StyleDefault.
			Foreground(tcell.ColorNavy).
			Background(tcell.ColorSilver).Bold(true)

		tb.SimpleStyledTextBar.Init()
		tb.SimpleStyledTextBar.SetStyle(normal)
		for _, c := range []rune{'N', 'W'} {
			style := normal
			if c == 'W' {
				style = worker
			}
			tb.RegisterLeftStyle(c, style)
			tb.RegisterCenterStyle(c, style)
			tb.RegisterRightStyle(c, style)
		}
	})
}

// SetServer shows which supervisor the screen is talking to.  The scheme
// is left off.
func (tb *TitleBar) SetServer(url string) {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	tb.server = strings.TrimSuffix(url, "/")
	tb.SetLeft("%W" + escape(tb.server))
}

// SetScreen names the screen, and the worker when it is about one.
func (tb *TitleBar) SetScreen(screen, worker string) {
	tb.screen = screen
	tb.worker = worker
	center := escape(screen)
	if worker != "" {
		center += " %W" + escape(worker)
	}
	if center == "" {
		center = " "
	}
	tb.SetCenter(center)
}

// Title is the screen and worker as plain text.
func (tb *TitleBar) Title() string {
	if tb.worker == "" {
		return tb.screen
	}
	return tb.screen + " " + tb.worker
}

// escape protects literal percent signs from the style markup.
func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func NewTitleBar(server, client string) *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	tb.SetServer(server)
	tb.SetScreen("", "")
	tb.SetRight(escape(client))
	return tb
}
