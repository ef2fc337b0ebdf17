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
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/SahanWeerasiri/genvisor"
)

type LogInfo struct {
	name    string
	etag    string
	Records []LogRecord
}

type Client struct {
	user      string // HTTP Basic-Auth
	pass      string
	token     string // Bearer token, preferred over Basic-Auth
	base      string // URI to root of tree on server
	auth      bool
	client    *http.Client
	transport *http.Transport

	// Cached data
	pool    *PoolInfo
	workers map[string]*WorkerInfo // worker entries
	names   []string               // worker names
	etag    string                 // etag for list of workers
	logs    map[string]*LogInfo
	lock    sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) SetToken(token string) {
	c.token = token
	c.auth = true
}

func (c *Client) url(name string) string {
	if name == "" {
		return c.base + "/workers"
	}
	return c.base + "/workers/" + url.PathEscape(name)
}

// Watch waits for the pool to change from the given etag, returning the
// new etag.  An empty etag returns the current one.
func (c *Client) Watch(ctx context.Context, etag string) (string, error) {
	var e error
	c.lock.Lock()
	if c.pool != nil && etag == "" {
		etag = c.pool.etag
		c.lock.Unlock()
		return etag, nil
	}
	c.lock.Unlock()

	pinfo := &PoolInfo{}
	if pinfo.etag, e = c.poll(ctx, c.base+"/", etag, MaxPollTime, pinfo); e != nil {
		return "", e
	}
	if pinfo.etag != "" {
		c.lock.Lock()
		if c.pool == nil || c.pool.etag != pinfo.etag {
			c.pool = pinfo
		}
		c.lock.Unlock()
		etag = pinfo.etag
	}
	return etag, nil
}

// GetInfo returns information about the pool.
func (c *Client) GetInfo() (*PoolInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := &PoolInfo{}
	etag, e := c.poll(ctx, c.base+"/", "", 0, v)
	if e != nil {
		return nil, e
	}
	v.etag = etag
	c.lock.Lock()
	c.pool = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) pollWorkers(ctx context.Context) ([]string, error) {

	var e error
	v := []string{}

	c.lock.Lock()
	otag := c.etag
	etag := ""
	onames := c.names
	c.lock.Unlock()

	if etag, e = c.poll(ctx, c.url(""), otag, 0, &v); e != nil {
		return nil, e
	}
	if etag == "" || etag == otag {
		return onames, nil
	}
	workers := make(map[string]*WorkerInfo)

	c.lock.Lock()
	c.etag = etag
	c.names = v
	for _, n := range v {
		if wi, ok := c.workers[n]; ok {
			workers[n] = wi
		}
	}
	c.workers = workers
	c.lock.Unlock()

	return v, nil
}

// Workers returns the worker names, in declaration order.
func (c *Client) Workers() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollWorkers(ctx)
}

func (c *Client) pollWorker(ctx context.Context, name string, secs int, last *WorkerInfo) (*WorkerInfo, error) {

	v := &WorkerInfo{}
	c.lock.Lock()
	owi, ok := c.workers[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != owi.etag {
		// The cache is already newer than what the caller has seen.
		return owi, nil
	} else {
		otag = last.etag
	}

	etag, e := c.poll(ctx, c.url(name), otag, secs, v)
	if e != nil {
		c.lock.Lock()
		delete(c.workers, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if owi == nil {
			return last, nil
		}
		return owi, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.workers[name] = v
	c.lock.Unlock()
	return v, nil
}

func (c *Client) GetWorker(name string) (*WorkerInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollWorker(ctx, name, 0, nil)
}

// WatchWorker waits for the worker to change from last.
func (c *Client) WatchWorker(ctx context.Context, name string, last *WorkerInfo) (*WorkerInfo, error) {
	return c.pollWorker(ctx, name, MaxPollTime, last)
}

// Status returns every worker's status, in declaration order.
func (c *Client) Status() ([]*WorkerInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v := []*WorkerInfo{}
	etag, e := c.poll(ctx, c.base+"/status", "", 0, &v)
	if e != nil {
		return nil, e
	}
	c.lock.Lock()
	for _, wi := range v {
		wi.etag = etag
		c.workers[wi.Name] = wi
	}
	c.lock.Unlock()
	return v, nil
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.auth:
		req.SetBasicAuth(c.user, c.pass)
	}
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {

	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	c.authorize(req)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// readError decodes the server's Error body, falling back to the status.
func readError(res *http.Response) error {
	err := &Error{}
	if body, e := io.ReadAll(res.Body); e == nil && json.Unmarshal(body, err) == nil && err.Message != "" {
		err.Code = res.StatusCode
		return err
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	c.authorize(req)
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

// postWorker posts an action for one worker, or for all of them when the
// name is empty or "all".
func (c *Client) postWorker(name string, action string, grace time.Duration) error {
	u := c.url(name) + "/" + action
	if name == "" || name == genvisor.AllWorkers {
		u = c.base + "/" + action
	}
	if grace >= 0 {
		u += "?grace=" + url.QueryEscape(grace.String())
	}
	return c.post(u)
}

func (c *Client) StartWorker(name string) error {
	return c.postWorker(name, "start", -1)
}

// StopWorker stops a worker, escalating to a kill after grace.  A negative
// grace uses the worker's configured kill timeout.
func (c *Client) StopWorker(name string, grace time.Duration) error {
	return c.postWorker(name, "stop", grace)
}

func (c *Client) RestartWorker(name string, grace time.Duration) error {
	return c.postWorker(name, "restart", grace)
}

func (c *Client) pollLog(ctx context.Context, name string, secs int, last *LogInfo) (*LogInfo, error) {

	v := &LogInfo{name: name}

	c.lock.Lock()
	cached, ok := c.logs[name]
	c.lock.Unlock()

	otag := ""
	if last == nil {
		secs = 0
	} else if ok && last.etag != cached.etag {
		return cached, nil
	} else {
		otag = last.etag
	}

	url := c.url(name) + "/log"
	if name == "" {
		url = c.base + "/log"
	}

	etag, e := c.poll(ctx, url, otag, secs, &v.Records)
	if e != nil {
		c.lock.Lock()
		delete(c.logs, name)
		c.lock.Unlock()
		return nil, e
	}
	if etag == "" {
		if cached == nil {
			return last, nil
		}
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.logs[name] = v
	c.lock.Unlock()

	return v, nil
}

// WatchLog waits for the log of the named worker (or the pool log, when
// name is empty) to change from last.
func (c *Client) WatchLog(ctx context.Context, name string, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, name, MaxPollTime, last)
}

func (c *Client) GetLog(name string) (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.pollLog(ctx, name, 0, nil)
}

// Events returns the journaled events of a worker, oldest first.  A limit
// of zero lets the server choose.
func (c *Client) Events(name string, limit int) ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u := c.url(name) + "/events"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	v := []Event{}
	if _, e := c.poll(ctx, u, "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	c := &Client{
		transport: t,
		base:      strings.TrimSuffix(baseURI, "/"),
		client:    &http.Client{Transport: t},
		workers:   make(map[string]*WorkerInfo),
		logs:      make(map[string]*LogInfo),
	}
	return c
}
