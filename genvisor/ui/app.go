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

// Package ui implements the genvisor terminal interface.
package ui

import (
	"errors"
	"log"
	"time"

	"golang.org/x/net/context"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/SahanWeerasiri/genvisor/genvisor/util"
	"github.com/SahanWeerasiri/genvisor/rest"
)

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	client    *rest.Client
	server    string
	logger    *log.Logger
	err       error
	items     []*rest.WorkerInfo
	logName   string
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc
	evName    string
	events    []rest.Event
	evErr     error
	actErr    error

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(name string) {
	a.info.SetName(name)
	a.evName = name
	a.events = nil
	a.evErr = nil
	go a.refreshEvents(name)
	a.show(a.info)
}

func (a *App) ShowLog(name string) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	a.logInfo = nil
	a.logErr = nil
	a.logName = name
	a.logCancel = cancel
	a.log.SetName(name)
	go a.refreshLog(ctx, name)

	a.show(a.log)
}

func (a *App) ShowMain() {
	if a.logCancel != nil {
		a.logCancel()
		a.logCancel = nil
	}
	a.show(a.main)
}

// act runs a control request off the event loop, since a stop may take
// as long as the worker's grace period.
func (a *App) act(what, name string, fn func(string) error) {
	a.Logf("%s %s", what, name)
	go func() {
		e := fn(name)
		a.app.PostFunc(func() {
			a.actErr = e
			if e != nil {
				a.Logf("%s %s failed: %v", what, name, e)
			}
			a.app.Update()
		})
	}()
}

func (a *App) StartWorker(name string) {
	a.act("Start", name, a.client.StartWorker)
}

func (a *App) StopWorker(name string) {
	a.act("Stop", name, func(n string) error {
		return a.client.StopWorker(n, -1)
	})
}

func (a *App) RestartWorker(name string) {
	a.act("Restart", name, func(n string) error {
		return a.client.RestartWorker(n, -1)
	})
}

func (a *App) Quit() {
	// This just posts the quit event.
	a.app.Quit()
}

func (a *App) SetLogger(logger *log.Logger) {
	a.logger = logger
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Printf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Genvisor v1.0"
}

func (a *App) GetServer() string {
	return a.server
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.server = url
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app)
	app.panel = app.main

	return app
}

func (a *App) getItems() ([]*rest.WorkerInfo, error) {
	items, e := a.client.Status()
	if e != nil {
		return nil, e
	}
	util.SortWorkers(items)
	return items, nil
}

// refresh keeps the app items current, waking whenever the pool changes.
// Memory samples do not change the pool, so it also refreshes every few
// seconds regardless.
func (a *App) refresh() {
	client := a.client
	etag := ""
	for {
		items, e := a.getItems()

		a.app.PostFunc(func() {
			a.items = items
			a.err = e
			a.app.Update()
		})
		ctx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		etag, e = client.Watch(ctx, etag)
		cancel()
		if e != nil && !errors.Is(e, context.DeadlineExceeded) {
			time.Sleep(2 * time.Second)
		}
	}
}

func (a *App) refreshLog(ctx context.Context, name string) {
	info, e := a.client.GetLog(name)

	for {
		a.app.PostFunc(func() {
			if a.logName == name {
				a.logInfo = info
				a.logErr = e
				a.app.Update()
			}
		})
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			time.Sleep(2 * time.Second)
			info, e = a.client.GetLog(name)
			continue
		}
		info, e = a.client.WatchLog(ctx, name, info)
	}
}

func (a *App) refreshEvents(name string) {
	evs, e := a.client.Events(name, 20)
	a.app.PostFunc(func() {
		if a.evName == name {
			a.events = evs
			a.evErr = e
			a.app.Update()
		}
	})
}

func (a *App) GetItems() ([]*rest.WorkerInfo, error) {
	return a.items, a.err
}

func (a *App) GetItem(name string) (*rest.WorkerInfo, error) {
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.Name == name {
			return i, nil
		}
	}
	return nil, errors.New("Worker not found")
}

func (a *App) GetLog(name string) (*rest.LogInfo, error) {
	if a.logName == name {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

func (a *App) GetEvents(name string) ([]rest.Event, error) {
	if a.evName == name {
		return a.events, a.evErr
	}
	return nil, nil
}

// LastActionError returns the failure of the most recent control request.
func (a *App) LastActionError() error {
	return a.actErr
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh()
	go func() {
		// Give us periodic updates
		for {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	a.Logf("Starting app loop")
	return a.app.Run()
}
