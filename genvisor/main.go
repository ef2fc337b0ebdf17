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

// Command genvisor implements a client application that communicates with
// genvisord.  It uses subcommands.
//
// The flags are
//
//	-a <address>	- select the server address, default is
//			  http://127.0.0.1:8321
//	-u <user:pass>	- user name & password for basic auth
//	-k <secret>	- token secret; a bearer token is minted from it
//	-g <duration>	- grace period for stop and restart
//
// Subcommands are
//
//	workers               - list all workers
//	status [<w> ...]      - show status for the named workers (or all)
//	info <w>              - show more detailed worker info
//	start <w>|all         - start the named worker
//	stop <w>|all          - stop the named worker
//	restart <w>|all       - restart the named worker
//	log [<w>]             - obtain the log for the worker, or the supervisor
//	events <w> [<n>]      - show journaled lifecycle events
//	token [<subject>]     - print a bearer token minted from -k
//	hash <password>       - print a bcrypt hash for auth.password_hash
//	top                   - interactive terminal interface (the default)
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SahanWeerasiri/genvisor/genvisor/ui"
	"github.com/SahanWeerasiri/genvisor/genvisor/util"
	"github.com/SahanWeerasiri/genvisor/rest"
)

var addr string = "http://127.0.0.1:8321"
var auth string = ""
var secret string = ""
var grace time.Duration = -1
var logfile string = ""

func usage() {
	log.Fatalf("Usage: %s [-a <address>] [-u <user:pass>] [-k <secret>] <subcommand>",
		os.Args[0])
}

func showStatus(w *rest.WorkerInfo) {
	up := time.Duration(w.Uptime) * time.Second
	fmt.Printf("%-20s %-15s %7d %5d %10s %3d  %s\n", w.Name,
		util.Status(w), w.Pid, w.Port, util.FormatDuration(up),
		w.Restarts, util.Detail(w))
}

func main() {
	flag.StringVar(&addr, "a", addr, "genvisor address")
	flag.StringVar(&auth, "u", auth, "user:pass authentication")
	flag.StringVar(&secret, "k", secret, "token secret")
	flag.DurationVar(&grace, "g", grace, "grace period for stop")
	flag.StringVar(&logfile, "l", logfile, "debug log for the interface")
	flag.Parse()

	client := rest.NewClient(nil, addr)
	if auth != "" {
		a := strings.SplitN(auth, ":", 2)
		if len(a) != 2 {
			log.Fatalf("Bad user:pass supplied")
		}
		client.SetAuth(a[0], a[1])
	}
	if secret != "" {
		tok, e := rest.NewToken(secret, "genvisor", time.Hour)
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		client.SetToken(tok)
	}

	args := flag.Args()
	if len(args) == 0 {
		args = []string{"top"}
	}

	switch args[0] {
	case "workers":
		if len(args) != 1 {
			usage()
		}
		names, e := client.Workers()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, name := range names {
			fmt.Println(name)
		}

	case "start":
		if len(args) != 2 {
			usage()
		}
		if e := client.StartWorker(args[1]); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	case "stop":
		if len(args) != 2 {
			usage()
		}
		if e := client.StopWorker(args[1], grace); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	case "restart":
		if len(args) != 2 {
			usage()
		}
		if e := client.RestartWorker(args[1], grace); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	case "log":
		name := ""
		switch len(args) {
		case 1:
		case 2:
			name = args[1]
		default:
			usage()
		}
		li, e := client.GetLog(name)
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, r := range li.Records {
			fmt.Printf("%s [%s] %s\n", r.Time.Format(time.StampMilli),
				r.Stream, r.Text)
		}

	case "events":
		limit := 0
		switch len(args) {
		case 2:
		case 3:
			n, e := strconv.Atoi(args[2])
			if e != nil {
				usage()
			}
			limit = n
		default:
			usage()
		}
		evs, e := client.Events(args[1], limit)
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		for _, ev := range evs {
			fmt.Printf("%s %-16s pid %-7d %s\n",
				ev.Time.Format(time.StampMilli), ev.Type, ev.Pid,
				ev.Detail)
		}

	case "info":
		if len(args) != 2 {
			usage()
		}
		w, e := client.GetWorker(args[1])
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		evs, _ := client.Events(args[1], 10)
		for _, l := range ui.InfoLines(w, evs) {
			fmt.Println(l)
		}

	case "status":
		infos, e := client.Status()
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		if len(args) > 1 {
			want := make(map[string]bool)
			for _, n := range args[1:] {
				want[n] = true
			}
			sel := infos[:0]
			for _, w := range infos {
				if want[w.Name] {
					sel = append(sel, w)
				}
			}
			infos = sel
		}
		for _, info := range infos {
			showStatus(info)
		}

	case "token":
		subject := "genvisor"
		if len(args) == 2 {
			subject = args[1]
		} else if len(args) != 1 {
			usage()
		}
		tok, e := rest.NewToken(secret, subject, 24*time.Hour)
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Println(tok)

	case "hash":
		if len(args) != 2 {
			usage()
		}
		h, e := rest.HashPassword(args[1])
		if e != nil {
			log.Fatalf("Failed: %v", e)
		}
		fmt.Println(h)

	case "top":
		app := ui.NewApp(client, addr)
		if logfile != "" {
			f, e := os.OpenFile(logfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
			if e != nil {
				log.Fatalf("Failed: %v", e)
			}
			defer f.Close()
			app.SetLogger(log.New(f, "", log.LstdFlags))
		}
		if e := app.Run(); e != nil {
			log.Fatalf("Failed: %v", e)
		}

	default:
		usage()
	}
}
