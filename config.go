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

package genvisor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Defaults applied when neither the supervisor section nor the worker
// declaration says otherwise.
const (
	DefaultListen          = "127.0.0.1:8321"
	DefaultStagger         = 500 * time.Millisecond
	DefaultPollInterval    = time.Second
	DefaultKillTimeout     = 5 * time.Second
	DefaultRestartDelay    = time.Second
	DefaultMaxRestartDelay = 30 * time.Second
	DefaultMaxRestarts     = 10
	DefaultRestartWindow   = time.Minute
	DefaultMinUptime       = 30 * time.Second
	DefaultHealthInterval  = 10 * time.Second
	DefaultHealthTimeout   = 2 * time.Second
	DefaultHealthFailures  = 3
)

// WorkerSpec is the immutable description of one worker.  It is created
// when the configuration is loaded and never modified afterwards.
type WorkerSpec struct {
	Name         string
	Command      string
	Args         []string
	Dir          string
	Env          map[string]string
	Port         int
	WorkerID     string
	Instances    int
	AutoRestart  bool
	Watch        bool // recorded, but file watching is not implemented
	Timestamps   bool
	MemoryLimit  uint64 // bytes; zero means no ceiling
	OutFile      string
	ErrFile      string
	CombinedFile string

	// Zero durations are replaced by the package defaults when the
	// worker is created.
	PollInterval    time.Duration
	KillTimeout     time.Duration
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration
	MaxRestarts     int // zero means never give up
	RestartWindow   time.Duration
	MinUptime       time.Duration

	HealthCheck *HealthCheck
}

// HealthCheck describes an optional HTTP probe.  The worker is restarted
// after Failures consecutive probes fail.
type HealthCheck struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Failures int
}

// AuthConfig controls access to the REST interface.  Either (or both) of
// basic authentication against a bcrypt hash, and bearer tokens signed with
// TokenSecret, may be enabled.
type AuthConfig struct {
	User         string
	PasswordHash string
	TokenSecret  string
}

// Config is a whole parsed ecosystem file.
type Config struct {
	Name    string
	Listen  string
	Stagger time.Duration
	Journal string
	LogDir  string
	Auth    AuthConfig
	Workers []WorkerSpec
}

// settings are the tunables that the supervisor section provides defaults
// for, and that each worker may override.
type settings struct {
	pollInterval    time.Duration
	killTimeout     time.Duration
	restartDelay    time.Duration
	maxRestartDelay time.Duration
	maxRestarts     int
	restartWindow   time.Duration
	minUptime       time.Duration
}

var defaultSettings = settings{
	pollInterval:    DefaultPollInterval,
	killTimeout:     DefaultKillTimeout,
	restartDelay:    DefaultRestartDelay,
	maxRestartDelay: DefaultMaxRestartDelay,
	maxRestarts:     DefaultMaxRestarts,
	restartWindow:   DefaultRestartWindow,
	minUptime:       DefaultMinUptime,
}

// LoadConfig reads and parses the ecosystem file at path.  Relative paths
// inside the file are resolved against the file's directory.
func LoadConfig(path string) (*Config, error) {
	b, e := os.ReadFile(path)
	if e != nil {
		return nil, &ConfigError{Err: e}
	}
	abs, e := filepath.Abs(path)
	if e != nil {
		return nil, &ConfigError{Err: e}
	}
	return ParseConfig(b, filepath.Dir(abs))
}

// ParseConfig parses an ecosystem document.  The document is JSON, shaped
// like a pm2 ecosystem file, with an optional "supervisor" section:
//
//	{
//	  "supervisor": { "stagger": "500ms", "max_restarts": 10, ... },
//	  "apps": [ { "name": "...", "script": "...", "env": {...}, ... } ]
//	}
//
// "apps" may also be an object mapping worker names to declarations.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	if !gjson.ValidBytes(data) {
		return nil, &ConfigError{Err: errors.New("not valid JSON")}
	}
	root := gjson.ParseBytes(data)
	sup := root.Get("supervisor")

	cfg := &Config{
		Name:    "genvisor",
		Listen:  DefaultListen,
		Stagger: DefaultStagger,
	}
	if v := sup.Get("name"); v.Exists() {
		cfg.Name = v.String()
	}
	if v := sup.Get("listen"); v.Exists() {
		cfg.Listen = v.String()
	}
	if v := sup.Get("stagger"); v.Exists() {
		d, e := parseDuration(v)
		if e != nil {
			return nil, &ConfigError{Field: "stagger", Err: e}
		}
		cfg.Stagger = d
	}
	if v := sup.Get("journal"); v.Exists() && v.String() != "" {
		cfg.Journal = resolvePath(baseDir, v.String())
	}
	if v := sup.Get("log_dir"); v.Exists() && v.String() != "" {
		cfg.LogDir = resolvePath(baseDir, v.String())
	}
	cfg.Auth = AuthConfig{
		User:         sup.Get("auth.user").String(),
		PasswordHash: sup.Get("auth.password_hash").String(),
		TokenSecret:  sup.Get("auth.token_secret").String(),
	}
	defs, e := readSettings(sup, defaultSettings, "")
	if e != nil {
		return nil, e
	}

	apps := root.Get("apps")
	var perr error
	add := func(name string, app gjson.Result) bool {
		specs, e := parseApp(name, app, defs, baseDir, cfg.LogDir)
		if e != nil {
			perr = e
			return false
		}
		cfg.Workers = append(cfg.Workers, specs...)
		return true
	}
	switch {
	case apps.IsArray():
		apps.ForEach(func(_, app gjson.Result) bool {
			return add("", app)
		})
	case apps.IsObject():
		apps.ForEach(func(key, app gjson.Result) bool {
			return add(key.String(), app)
		})
	default:
		return nil, &ConfigError{Field: "apps", Err: ErrMissingField}
	}
	if perr != nil {
		return nil, perr
	}
	if len(cfg.Workers) == 0 {
		return nil, &ConfigError{Field: "apps", Err: errors.New("no workers declared")}
	}
	if e := ValidateSpecs(cfg.Workers); e != nil {
		return nil, e
	}
	return cfg, nil
}

func readSettings(r gjson.Result, s settings, worker string) (settings, error) {
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"poll_interval", &s.pollInterval},
		{"kill_timeout", &s.killTimeout},
		{"restart_delay", &s.restartDelay},
		{"max_restart_delay", &s.maxRestartDelay},
		{"restart_window", &s.restartWindow},
		{"min_uptime", &s.minUptime},
	}
	for _, d := range durations {
		v := r.Get(d.key)
		if !v.Exists() {
			continue
		}
		val, e := parseDuration(v)
		if e != nil {
			return s, &ConfigError{Worker: worker, Field: d.key, Err: e}
		}
		*d.dst = val
	}
	if s.pollInterval <= 0 {
		return s, &ConfigError{Worker: worker, Field: "poll_interval",
			Err: errors.New("must be positive")}
	}
	if v := r.Get("max_restarts"); v.Exists() {
		if v.Type != gjson.Number || v.Int() < 0 {
			return s, &ConfigError{Worker: worker, Field: "max_restarts",
				Err: fmt.Errorf("bad count %q", v.Raw)}
		}
		s.maxRestarts = int(v.Int())
	}
	return s, nil
}

func parseApp(name string, app gjson.Result, defs settings, baseDir, logDir string) ([]WorkerSpec, error) {
	if !app.IsObject() {
		return nil, &ConfigError{Worker: name, Err: errors.New("declaration is not an object")}
	}
	if name == "" {
		name = app.Get("name").String()
	}
	if name == "" {
		return nil, &ConfigError{Field: "name", Err: ErrMissingField}
	}

	spec := WorkerSpec{
		Name:        name,
		AutoRestart: true,
		Instances:   1,
	}
	spec.Command = app.Get("script").String()
	if spec.Command == "" {
		spec.Command = app.Get("command").String()
	}
	if spec.Command == "" {
		return nil, &ConfigError{Worker: name, Field: "script", Err: ErrMissingField}
	}

	switch args := app.Get("args"); {
	case args.IsArray():
		for _, a := range args.Array() {
			spec.Args = append(spec.Args, a.String())
		}
	case args.Exists():
		spec.Args = strings.Fields(args.String())
	}

	spec.Dir = baseDir
	if v := app.Get("cwd"); v.Exists() && v.String() != "" {
		spec.Dir = resolvePath(baseDir, v.String())
	}

	if v := app.Get("instances"); v.Exists() {
		switch {
		case v.Type == gjson.String && v.String() == "max":
			spec.Instances = runtime.NumCPU()
		case v.Type == gjson.Number && v.Int() >= 0:
			spec.Instances = int(v.Int())
			if spec.Instances == 0 {
				spec.Instances = 1
			}
		default:
			return nil, &ConfigError{Worker: name, Field: "instances",
				Err: fmt.Errorf("bad count %q", v.Raw)}
		}
	}
	if v := app.Get("autorestart"); v.Exists() {
		spec.AutoRestart = v.Bool()
	}
	spec.Watch = app.Get("watch").Bool()
	spec.Timestamps = app.Get("time").Bool()

	if v := app.Get("max_memory_restart"); v.Exists() {
		n, e := parseMemoryValue(v)
		if e != nil {
			return nil, &ConfigError{Worker: name, Field: "max_memory_restart", Err: e}
		}
		spec.MemoryLimit = n
	}

	spec.Env = make(map[string]string)
	app.Get("env").ForEach(func(k, v gjson.Result) bool {
		spec.Env[k.String()] = v.String()
		return true
	})
	ps, ok := spec.Env["PORT"]
	if !ok || ps == "" {
		return nil, &ConfigError{Worker: name, Field: "PORT", Err: ErrMissingField}
	}
	port, e := strconv.Atoi(ps)
	if e != nil || port <= 0 || port > MaxPort {
		return nil, &ConfigError{Worker: name, Field: "PORT",
			Err: fmt.Errorf("bad port %q", ps)}
	}
	spec.Port = port
	spec.WorkerID = spec.Env["WORKER_ID"]
	if spec.WorkerID == "" {
		spec.WorkerID = name
		spec.Env["WORKER_ID"] = name
	}

	spec.OutFile = logPath(app.Get("out_file"), baseDir, logDir, name, "-out.log")
	spec.ErrFile = logPath(app.Get("error_file"), baseDir, logDir, name, "-error.log")
	spec.CombinedFile = logPath(app.Get("log_file"), baseDir, logDir, name, ".log")

	s, e := readSettings(app, defs, name)
	if e != nil {
		return nil, e
	}
	spec.PollInterval = s.pollInterval
	spec.KillTimeout = s.killTimeout
	spec.RestartDelay = s.restartDelay
	spec.MaxRestartDelay = s.maxRestartDelay
	spec.MaxRestarts = s.maxRestarts
	spec.RestartWindow = s.restartWindow
	spec.MinUptime = s.minUptime

	if hc := app.Get("health_check"); hc.Exists() {
		h, e := parseHealthCheck(hc, name)
		if e != nil {
			return nil, e
		}
		spec.HealthCheck = h
	}

	if spec.Instances == 1 {
		spec.finish()
		return []WorkerSpec{spec}, nil
	}
	specs := make([]WorkerSpec, 0, spec.Instances)
	for i := 0; i < spec.Instances; i++ {
		specs = append(specs, spec.instance(i))
	}
	return specs, nil
}

func parseHealthCheck(hc gjson.Result, worker string) (*HealthCheck, error) {
	h := &HealthCheck{
		URL:      hc.Get("url").String(),
		Interval: DefaultHealthInterval,
		Timeout:  DefaultHealthTimeout,
		Failures: DefaultHealthFailures,
	}
	if h.URL == "" {
		return nil, &ConfigError{Worker: worker, Field: "health_check.url", Err: ErrMissingField}
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"interval", &h.Interval},
		{"timeout", &h.Timeout},
	} {
		if v := hc.Get(d.key); v.Exists() {
			val, e := parseDuration(v)
			if e != nil || val <= 0 {
				return nil, &ConfigError{Worker: worker,
					Field: "health_check." + d.key,
					Err:   fmt.Errorf("bad duration %q", v.Raw)}
			}
			*d.dst = val
		}
	}
	if v := hc.Get("failures"); v.Exists() {
		if v.Int() <= 0 {
			return nil, &ConfigError{Worker: worker, Field: "health_check.failures",
				Err: fmt.Errorf("bad count %q", v.Raw)}
		}
		h.Failures = int(v.Int())
	}
	return h, nil
}

// finish fills in values derived from the port.
func (s *WorkerSpec) finish() {
	if s.HealthCheck != nil {
		h := *s.HealthCheck
		h.URL = strings.ReplaceAll(h.URL, "{PORT}", strconv.Itoa(s.Port))
		s.HealthCheck = &h
	}
}

// instance returns the i'th copy of a spec declared with more than one
// instance.  Each copy gets its own name, port, identifier and log files.
func (s WorkerSpec) instance(i int) WorkerSpec {
	c := s
	suffix := "-" + strconv.Itoa(i)
	c.Name = s.Name + suffix
	c.Port = s.Port + i
	c.WorkerID = s.WorkerID + suffix
	c.Instances = 1
	c.Env = make(map[string]string, len(s.Env)+1)
	for k, v := range s.Env {
		c.Env[k] = v
	}
	c.Env["PORT"] = strconv.Itoa(c.Port)
	c.Env["WORKER_ID"] = c.WorkerID
	c.Env["INSTANCE_ID"] = strconv.Itoa(i)
	c.Args = append([]string(nil), s.Args...)
	c.OutFile = instancePath(s.OutFile, suffix)
	c.ErrFile = instancePath(s.ErrFile, suffix)
	c.CombinedFile = instancePath(s.CombinedFile, suffix)
	c.finish()
	return c
}

func instancePath(path, suffix string) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// MaxPort is the highest TCP port a worker may be assigned.
const MaxPort = 65535

// ValidateSpecs checks the rules that span the whole pool: names and ports
// must be unique, and every worker needs a command and a port in range.
// AllWorkers is reserved and cannot name a worker.
func ValidateSpecs(specs []WorkerSpec) error {
	names := make(map[string]bool, len(specs))
	ports := make(map[int]string, len(specs))
	for i := range specs {
		s := &specs[i]
		if s.Name == "" {
			return &ConfigError{Field: "name", Err: ErrMissingField}
		}
		if s.Name == AllWorkers {
			return &ConfigError{Worker: s.Name, Field: "name", Err: ErrReservedName}
		}
		if names[s.Name] {
			return &ConfigError{Worker: s.Name, Err: ErrDuplicateName}
		}
		names[s.Name] = true
		if s.Command == "" {
			return &ConfigError{Worker: s.Name, Field: "script", Err: ErrMissingField}
		}
		if s.Port <= 0 {
			return &ConfigError{Worker: s.Name, Field: "PORT", Err: ErrMissingField}
		}
		if s.Port > MaxPort {
			return &ConfigError{Worker: s.Name, Field: "PORT",
				Err: fmt.Errorf("%w: %d", ErrBadPort, s.Port)}
		}
		if other, ok := ports[s.Port]; ok {
			return &ConfigError{Worker: s.Name, Field: "PORT",
				Err: fmt.Errorf("%w: %d also used by %s", ErrDuplicatePort, s.Port, other)}
		}
		ports[s.Port] = s.Name
	}
	return nil
}

// ParseMemory converts a size such as "1G", "512M", "100MB", "64KiB" or
// "1073741824" to bytes.  Units are powers of 1024.  The result must be
// positive.
func ParseMemory(s string) (uint64, error) {
	str := strings.ToUpper(strings.TrimSpace(s))
	str = strings.TrimSuffix(str, "IB")
	str = strings.TrimSuffix(str, "B")
	mult := float64(1)
	if n := len(str); n > 0 {
		switch str[n-1] {
		case 'K':
			mult = 1 << 10
		case 'M':
			mult = 1 << 20
		case 'G':
			mult = 1 << 30
		case 'T':
			mult = 1 << 40
		}
		if mult != 1 {
			str = str[:n-1]
		}
	}
	v, e := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if e != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadMemory, s)
	}
	n := v * mult
	if n < 1 || n >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrBadMemory, s)
	}
	return uint64(n), nil
}

func parseMemoryValue(v gjson.Result) (uint64, error) {
	if v.Type == gjson.Number {
		if v.Float() < 1 {
			return 0, fmt.Errorf("%w: %s must be positive", ErrBadMemory, v.Raw)
		}
		return v.Uint(), nil
	}
	return ParseMemory(v.String())
}

// parseDuration accepts either a Go duration string, or a number of
// milliseconds as pm2 uses.
func parseDuration(v gjson.Result) (time.Duration, error) {
	switch v.Type {
	case gjson.Number:
		if v.Int() < 0 {
			return 0, fmt.Errorf("negative duration %s", v.Raw)
		}
		return time.Duration(v.Int()) * time.Millisecond, nil
	case gjson.String:
		d, e := time.ParseDuration(v.String())
		if e != nil {
			return 0, e
		}
		if d < 0 {
			return 0, fmt.Errorf("negative duration %s", v.Raw)
		}
		return d, nil
	}
	return 0, fmt.Errorf("bad duration %s", v.Raw)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func logPath(v gjson.Result, baseDir, logDir, name, suffix string) string {
	if v.Exists() && v.String() != "" {
		return resolvePath(baseDir, v.String())
	}
	if logDir != "" {
		return filepath.Join(logDir, name+suffix)
	}
	return ""
}
