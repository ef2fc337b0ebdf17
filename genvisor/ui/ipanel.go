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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/SahanWeerasiri/genvisor/genvisor/util"
	"github.com/SahanWeerasiri/genvisor/rest"
)

type InfoPanel struct {
	text *views.TextArea
	info *rest.WorkerInfo
	name string // worker name

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}

	p.Panel.Init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	info := p.info
	app := p.app
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if info != nil {
					app.ShowLog(info.Name)
					return true
				}
			case 'S', 's':
				if info != nil && canStart(info) {
					app.StartWorker(info.Name)
					return true
				}
			case 'K', 'k':
				if info != nil && canStop(info) {
					app.StopWorker(info.Name)
					return true
				}
			case 'R', 'r':
				if info != nil {
					app.RestartWorker(info.Name)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetName(name string) {
	p.name = name
	p.info = nil
}

// InfoLines formats the details of a worker, followed by its recent
// lifecycle events when the supervisor keeps a journal.
func InfoLines(s *rest.WorkerInfo, evs []rest.Event) []string {
	lines := make([]string, 0, 24)
	add := func(label string, format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf("%13s ", label+":")+fmt.Sprintf(format, v...))
	}
	add("Name", "%s", s.Name)
	add("Phase", "%s", util.Status(s))
	add("Since", "%s", s.Since.Format(time.RFC1123))
	if s.Pid != 0 {
		add("Pid", "%d", s.Pid)
	}
	add("Port", "%d", s.Port)
	add("Worker ID", "%s", s.WorkerID)
	add("Command", "%s %v", s.Command, s.Args)
	if s.Dir != "" {
		add("Directory", "%s", s.Dir)
	}
	if s.RunID != "" {
		add("Run ID", "%s", s.RunID)
	}
	if s.Running() {
		add("Uptime", "%s", util.FormatDuration(time.Duration(s.Uptime)*time.Second))
	}
	add("Restarts", "%d (%d total)", s.Restarts, s.TotalRestarts)
	add("Auto restart", "%v", s.AutoRestart)
	if s.LastExit != "" {
		add("Last exit", "%s", util.Detail(s))
	}
	if s.Memory != 0 {
		add("Memory", "%s at %s", util.FormatMemory(s.Memory),
			s.MemoryTime.Format(time.Stamp))
	}
	if s.MemoryLimit != 0 {
		add("Memory limit", "%s", util.FormatMemory(s.MemoryLimit))
	}
	if s.LogError != "" {
		add("Log error", "%s (%d dropped)", s.LogError, s.LogDropped)
	}
	if len(evs) != 0 {
		lines = append(lines, "", "Recent events:")
		for _, ev := range evs {
			l := fmt.Sprintf("  %s %-16s", ev.Time.Format(time.StampMilli), ev.Type)
			if ev.Pid != 0 {
				l += fmt.Sprintf(" pid %d", ev.Pid)
			}
			if ev.Detail != "" {
				l += " " + ev.Detail
			}
			lines = append(lines, l)
		}
	}
	return lines
}

// update must be called with AppLock held.
func (p *InfoPanel) update() {

	s, e := p.app.GetItem(p.name)
	evs, _ := p.app.GetEvents(p.name)
	p.info = s

	words := []string{"[ESC] Main", "[H] Help"}

	p.SetScreen("Details for", p.name)

	if s == nil {
		if e != nil {
			p.SetFault(fmt.Sprintf("No data: %v", e))
		} else {
			p.SetMessage("Loading...")
		}
		p.text.SetLines(nil)
		p.SetKeys(words)
		return
	}

	p.SetWorker(s, "")
	p.text.SetLines(InfoLines(s, evs))

	words = append(words, "[L] Log")
	words = append(words, actionKeys(s)...)
	p.SetKeys(words)
}
