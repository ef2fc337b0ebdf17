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
	"sync"

	"github.com/gdamore/tcell/v2/views"

	"github.com/SahanWeerasiri/genvisor/rest"
)

// Panel is the frame shared by every screen: the TitleBar on top, the
// StatusBar below it, the content, and the KeyBar at the bottom.
type Panel struct {
	tb   *TitleBar
	sb   *StatusBar
	kb   *KeyBar
	once sync.Once
	app  *App

	views.Panel
}

// SetScreen names the screen, and the worker if it is about one.
func (p *Panel) SetScreen(screen, worker string) {
	p.tb.SetScreen(screen, worker)
}

func (p *Panel) SetKeys(words []string) {
	p.kb.SetKeys(words)
}

func (p *Panel) SetWorker(w *rest.WorkerInfo, text string) {
	p.sb.SetWorker(w, text)
}

func (p *Panel) SetPool(s PoolSummary, last error) {
	p.sb.SetPool(s, last)
}

func (p *Panel) SetFault(text string) {
	p.sb.SetFault(text)
}

func (p *Panel) SetMessage(text string) {
	p.sb.SetMessage(text)
}

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app
		p.tb = NewTitleBar(app.GetServer(), app.GetAppName())
		p.sb = NewStatusBar()
		p.kb = NewKeyBar()

		p.Panel.SetTitle(p.tb)
		p.Panel.SetMenu(p.sb)
		p.Panel.SetStatus(p.kb)
	})
}

func (p *Panel) App() *App {
	return p.app
}
