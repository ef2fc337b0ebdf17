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

	"github.com/SahanWeerasiri/genvisor"
	"github.com/SahanWeerasiri/genvisor/rest"
)

type LogPanel struct {
	text *views.TextArea
	info *rest.WorkerInfo
	name string // worker name, empty for the pool log

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)

	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
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
			case 'I', 'i':
				if info != nil {
					app.ShowInfo(info.Name)
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

func (p *LogPanel) SetName(name string) {
	p.SetScreen("Loading", "")
	p.text.SetLines(nil)
	p.name = name
	p.info = nil
}

// streamTag marks lines that did not come from stdout.
func streamTag(stream string) string {
	switch stream {
	case genvisor.StreamStderr.String():
		return "! "
	case genvisor.StreamSupervisor.String():
		return "* "
	}
	return "  "
}

// update must be called with AppLock held.
func (p *LogPanel) update() {

	winfo, e1 := p.app.GetItem(p.name)
	loginfo, e2 := p.app.GetLog(p.name)
	if p.name == "" {
		winfo, e1 = nil, nil
	}
	p.info = winfo

	words := []string{"[ESC] Main", "[H] Help"}

	if p.name == "" {
		p.SetScreen("Supervisor Log", "")
	} else {
		p.SetScreen("Log for", p.name)
	}

	if (winfo == nil && p.name != "") || loginfo == nil {
		e := e2
		if e == nil {
			e = e1
		}
		if e != nil {
			p.SetFault(fmt.Sprintf("No data: %v", e))
		} else {
			p.SetMessage("Loading ...")
		}
		p.text.SetLines([]string{""})
		p.SetKeys(words)
		return
	}

	status := fmt.Sprintf("%d lines", len(loginfo.Records))
	if winfo != nil {
		p.SetWorker(winfo, status)
	} else {
		p.SetMessage(status)
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		line := fmt.Sprintf("%s %s%s",
			r.Time.Format(time.StampMilli), streamTag(r.Stream), r.Text)
		lines = append(lines, line)
	}
	p.text.SetLines(lines)

	if winfo != nil {
		words = append(words, "[I] Info")
		words = append(words, actionKeys(winfo)...)
	}
	p.SetKeys(words)
}
