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

// Command genvisord supervises the pool of workers described by an
// ecosystem file, and serves the REST interface used by genvisor.
//
// The flags are
//
//	-c <file>	- ecosystem file, default is ecosystem.json
//	-a <address>	- listen address, overriding the file
//	-n <name>	- supervisor name, overriding the file
//	-t		- check the ecosystem file and exit
//
// The exit status is 0 after a clean shutdown, 1 if any worker gave up
// during startup, and 2 if the ecosystem file is unusable.  SIGHUP reopens
// the worker log files.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SahanWeerasiri/genvisor"
	"github.com/SahanWeerasiri/genvisor/journal"
	"github.com/SahanWeerasiri/genvisor/rest"
)

const (
	exitOK = iota
	exitGivenUp
	exitConfig
)

var file string = "ecosystem.json"
var addr string = ""
var name string = ""
var check bool = false

func main() {
	flag.StringVar(&file, "c", file, "ecosystem file")
	flag.StringVar(&addr, "a", addr, "listen address")
	flag.StringVar(&name, "n", name, "genvisor name")
	flag.BoolVar(&check, "t", check, "check the ecosystem file only")
	flag.Parse()

	os.Exit(run())
}

// loadConfig reads and checks the ecosystem file.  The status is exitConfig
// if the file cannot be used.
func loadConfig(file string, logger *log.Logger) (*genvisor.Config, int) {
	cfg, e := genvisor.LoadConfig(file)
	if e == nil {
		e = genvisor.ValidateSpecs(cfg.Workers)
	}
	if e != nil {
		logger.Printf("Bad ecosystem file %s: %v", file, e)
		return nil, exitConfig
	}
	return cfg, exitOK
}

// startupStatus classifies the result of LoadAndStart.  When fatal is set
// the daemon shuts down instead of supervising what did start.
func startupStatus(e error) (status int, fatal bool) {
	switch {
	case e == nil:
		return exitOK, false
	case errors.Is(e, genvisor.ErrGivenUp):
		return exitGivenUp, false
	}
	return exitConfig, true
}

func run() int {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, status := loadConfig(file, logger)
	if cfg == nil {
		return status
	}
	if check {
		for _, s := range cfg.Workers {
			fmt.Printf("%-20s port %-5d %s\n", s.Name, s.Port, s.Command)
		}
		return exitOK
	}
	if addr != "" {
		cfg.Listen = addr
	}
	if name != "" {
		cfg.Name = name
	}

	var e error
	p := genvisor.NewPool(cfg.Name)
	p.SetLogger(logger)
	p.SetStagger(cfg.Stagger)

	var j *journal.Journal
	if cfg.Journal != "" {
		if j, e = journal.Open(cfg.Journal); e != nil {
			// The journal is a convenience; supervise without it.
			logger.Printf("Failed to open journal %s: %v", cfg.Journal, e)
		} else {
			j.SetLogger(log.New(os.Stderr, "[journal] ", log.LstdFlags))
			p.SetEventSink(j)
		}
	}

	h := rest.NewHandler(p, rest.NewAuth(cfg.Auth))
	if j != nil {
		h.SetEventSource(j)
	}
	srv := &http.Server{Addr: cfg.Listen, Handler: h}
	go func() {
		if e := srv.ListenAndServe(); e != nil && e != http.ErrServerClosed {
			logger.Printf("REST server on %s failed: %v", cfg.Listen, e)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan error, 1)
	go func() {
		started <- p.LoadAndStart(ctx, cfg.Workers)
	}()

	status = exitOK
loop:
	for {
		select {
		case e := <-started:
			started = nil
			var fatal bool
			status, fatal = startupStatus(e)
			switch {
			case e == nil:
				logger.Printf("All %d workers running", len(cfg.Workers))
			case fatal:
				logger.Printf("Startup failed: %v", e)
				break loop
			default:
				logger.Printf("Startup incomplete: %v", e)
			}
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				if e := p.ReopenLogs(); e != nil {
					logger.Printf("Reopening logs: %v", e)
				}
				continue
			}
			logger.Printf("Received %v, shutting down", sig)
			break loop
		}
	}

	// A signal may arrive while workers are still being started.
	cancel()
	if started != nil {
		<-started
	}
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	srv.Shutdown(sctx)
	scancel()
	p.Shutdown(-1)
	if j != nil {
		j.Close()
	}
	return status
}
