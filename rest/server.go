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

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SahanWeerasiri/genvisor"
)

// EventSource serves journaled lifecycle events.  The journal package
// provides one.
type EventSource interface {
	Events(worker string, limit int) ([]genvisor.Event, error)
}

// Handler wraps a Pool, adding http.Handler functionality.
type Handler struct {
	p      *genvisor.Pool
	r      *mux.Router
	auth   *Auth
	events EventSource
}

func internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func poolError(e error) *Error {
	switch {
	case errors.Is(e, genvisor.ErrNoWorker):
		return &Error{http.StatusNotFound, e.Error()}
	case errors.Is(e, genvisor.ErrShutdown):
		return &Error{http.StatusServiceUnavailable, e.Error()}
	}
	return &Error{http.StatusBadRequest, e.Error()}
}

func formatEtag(id int64) string {
	return `"` + strconv.FormatInt(id, 10) + `"`
}

func parseEtag(s string) (int64, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	v, e := strconv.ParseInt(strings.Trim(s, `"`), 10, 64)
	return v, e == nil
}

// pollArgs returns the etag and wait time of a long poll request.
func pollArgs(r *http.Request) (int64, time.Duration, bool) {
	old, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok {
		return 0, 0, false
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return 0, 0, false
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return old, time.Duration(secs) * time.Second, true
}

// notModified writes the Etag, and reports whether the client already
// has the current value, in which case a 304 has been sent.
func notModified(w http.ResponseWriter, r *http.Request, id int64) bool {
	etag := formatEtag(id)
	w.Header().Set("Etag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

// wait calls watch in short slices until the value moves away from old,
// d passes, or the client goes away.
func wait(ctx context.Context, old int64, d time.Duration, watch func(int64, time.Duration) int64) int64 {
	deadline := time.Now().Add(d)
	for {
		left := time.Until(deadline)
		if left > time.Second {
			left = time.Second
		}
		if left < 0 {
			left = 0
		}
		v := watch(old, left)
		if v != old || left == 0 || ctx.Err() != nil {
			return v
		}
	}
}

// serial returns the pool serial, waiting for it to change first if the
// request asked for a long poll.
func (h *Handler) serial(r *http.Request) int64 {
	if old, d, ok := pollArgs(r); ok {
		return wait(r.Context(), old, d, h.p.WatchSerial)
	}
	return h.p.Serial()
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	serial := h.serial(r)
	if notModified(w, r, serial) {
		return
	}
	info := h.p.GetInfo()
	writeJson(w, &PoolInfo{
		Name:       info.Name,
		Serial:     info.Serial,
		Workers:    info.Workers,
		CreateTime: info.CreateTime,
		UpdateTime: info.UpdateTime,
	})
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	serial := h.serial(r)
	if notModified(w, r, serial) {
		return
	}
	writeJson(w, h.p.Names())
}

func (h *Handler) findWorker(name string) (*genvisor.Worker, *Error) {
	wk, e := h.p.Worker(name)
	if e != nil {
		return nil, &Error{http.StatusNotFound, "Worker not found"}
	}
	return wk, nil
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["worker"]
	wk, e := h.findWorker(name)
	if e != nil {
		writeError(w, e)
		return
	}
	serial := h.serial(r)
	if notModified(w, r, serial) {
		return
	}
	writeJson(w, workerInfo(wk, time.Now()))
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	serial := h.serial(r)
	if notModified(w, r, serial) {
		return
	}
	now := time.Now()
	l := []*WorkerInfo{}
	for _, name := range h.p.Names() {
		if wk, e := h.p.Worker(name); e == nil {
			l = append(l, workerInfo(wk, now))
		}
	}
	writeJson(w, l)
}

// grace reads the optional grace query parameter.  Absent, each worker's
// kill timeout applies.
func grace(r *http.Request) (time.Duration, *Error) {
	s := r.URL.Query().Get("grace")
	if s == "" {
		return -1, nil
	}
	d, e := time.ParseDuration(s)
	if e != nil || d < 0 {
		return 0, &Error{http.StatusBadRequest, "Bad grace period"}
	}
	return d, nil
}

func (h *Handler) target(r *http.Request) string {
	if name, ok := mux.Vars(r)["worker"]; ok {
		return name
	}
	return genvisor.AllWorkers
}

func (h *Handler) startWorker(w http.ResponseWriter, r *http.Request) {
	if e := h.p.Start(h.target(r)); e != nil {
		writeError(w, poolError(e))
	} else {
		writeJson(w, ok)
	}
}

func (h *Handler) stopWorker(w http.ResponseWriter, r *http.Request) {
	g, err := grace(r)
	if err != nil {
		writeError(w, err)
	} else if e := h.p.Stop(h.target(r), g); e != nil {
		writeError(w, poolError(e))
	} else {
		writeJson(w, ok)
	}
}

func (h *Handler) restartWorker(w http.ResponseWriter, r *http.Request) {
	g, err := grace(r)
	if err != nil {
		writeError(w, err)
	} else if e := h.p.Restart(h.target(r), g); e != nil {
		writeError(w, poolError(e))
	} else {
		writeJson(w, ok)
	}
}

func (h *Handler) serveLog(w http.ResponseWriter, r *http.Request, lg *genvisor.Log) {
	if old, d, ok := pollArgs(r); ok {
		wait(r.Context(), old, d, lg.Watch)
	}
	recs, id := lg.GetRecords(0)
	if notModified(w, r, id) {
		return
	}
	writeJson(w, recs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["worker"]
	if wk, e := h.findWorker(name); e != nil {
		writeError(w, e)
	} else {
		h.serveLog(w, r, wk.Log())
	}
}

func (h *Handler) getPoolLog(w http.ResponseWriter, r *http.Request) {
	if old, d, ok := pollArgs(r); ok {
		wait(r.Context(), old, d, h.p.WatchLog)
	}
	recs, id := h.p.GetLog(0)
	if notModified(w, r, id) {
		return
	}
	writeJson(w, recs)
}

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["worker"]
	if _, e := h.findWorker(name); e != nil {
		writeError(w, e)
		return
	}
	if h.events == nil {
		writeError(w, &Error{http.StatusNotFound, "No event journal"})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, e := strconv.Atoi(s)
		if e != nil || n < 0 {
			writeError(w, &Error{http.StatusBadRequest, "Bad limit"})
			return
		}
		limit = n
	}
	evs, e := h.events.Events(name, limit)
	if e != nil {
		internalError(w, e)
		return
	}
	if evs == nil {
		evs = []genvisor.Event{}
	}
	writeJson(w, evs)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// SetEventSource attaches the journal used for the events endpoint.
func (h *Handler) SetEventSource(src EventSource) {
	h.events = src
}

// NewHandler returns a handler serving the pool.  The auth may be nil,
// in which case no credentials are required.
func NewHandler(p *genvisor.Pool, auth *Auth) *Handler {
	r := mux.NewRouter()
	h := &Handler{p: p, r: r, auth: auth}
	if auth.Enabled() {
		r.Use(auth.Middleware)
	}
	r.HandleFunc("/", h.getPool).Methods("GET")
	r.HandleFunc("/workers", h.listWorkers).Methods("GET")
	r.HandleFunc("/status", h.getStatus).Methods("GET")
	r.HandleFunc("/log", h.getPoolLog).Methods("GET")
	r.HandleFunc("/start", h.startWorker).Methods("POST")
	r.HandleFunc("/stop", h.stopWorker).Methods("POST")
	r.HandleFunc("/restart", h.restartWorker).Methods("POST")
	r.HandleFunc("/workers/{worker}", h.getWorker).Methods("GET")
	r.HandleFunc("/workers/{worker}/start", h.startWorker).Methods("POST")
	r.HandleFunc("/workers/{worker}/stop", h.stopWorker).Methods("POST")
	r.HandleFunc("/workers/{worker}/restart", h.restartWorker).Methods("POST")
	r.HandleFunc("/workers/{worker}/log", h.getLog).Methods("GET")
	r.HandleFunc("/workers/{worker}/events", h.getEvents).Methods("GET")
	return h
}
