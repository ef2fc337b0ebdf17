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

package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/SahanWeerasiri/genvisor"

	. "github.com/smartystreets/goconvey/convey"
)

func writeFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "ecosystem.json")
	if e := os.WriteFile(path, []byte(content), 0644); e != nil {
		t.Fatal(e)
	}
	return path
}

func TestLoadConfigStatus(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	Convey("A usable ecosystem file loads", t, func() {
		path := writeFile(t, `{"apps": [
			{"name": "a", "script": "true", "env": {"PORT": 5001}},
			{"name": "b", "script": "true", "env": {"PORT": 5002}}
		]}`)
		cfg, status := loadConfig(path, logger)
		So(cfg, ShouldNotBeNil)
		So(status, ShouldEqual, exitOK)
		So(len(cfg.Workers), ShouldEqual, 2)
	})

	Convey("Unusable ecosystem files exit with status 2", t, func() {
		for _, content := range []string{
			`{"apps": [`,
			`{"apps": [{"name": "a", "script": "true"}]}`,
			`{"apps": [
				{"name": "a", "script": "true", "env": {"PORT": 5001}},
				{"name": "b", "script": "true", "env": {"PORT": 5001}}
			]}`,
		} {
			cfg, status := loadConfig(writeFile(t, content), logger)
			So(cfg, ShouldBeNil)
			So(status, ShouldEqual, exitConfig)
		}
		cfg, status := loadConfig(filepath.Join(t.TempDir(), "missing.json"), logger)
		So(cfg, ShouldBeNil)
		So(status, ShouldEqual, exitConfig)
	})
}

func TestStartupStatus(t *testing.T) {
	Convey("Given a pool whose launches fail", t, func() {
		p := genvisor.NewPool("Startup")
		p.SetLogger(log.New(io.Discard, "", 0))
		p.SetStagger(0)
		broken := errors.New("no such program")
		p.SetLauncher(genvisor.LauncherFunc(
			func(spec *genvisor.WorkerSpec, sink *genvisor.LogSink) (genvisor.Handle, error) {
				return nil, broken
			}))
		Reset(func() {
			p.Shutdown(0)
		})

		Convey("A worker giving up at startup exits with status 1", func() {
			specs := []genvisor.WorkerSpec{
				{Name: "a", Command: "true", Port: 5001},
			}
			status, fatal := startupStatus(p.LoadAndStart(context.Background(), specs))
			So(status, ShouldEqual, exitGivenUp)
			So(fatal, ShouldBeFalse)
		})

		Convey("Inconsistent workers exit with status 2", func() {
			specs := []genvisor.WorkerSpec{
				{Name: "a", Command: "true", Port: 5001},
				{Name: "b", Command: "true", Port: 5001},
			}
			status, fatal := startupStatus(p.LoadAndStart(context.Background(), specs))
			So(status, ShouldEqual, exitConfig)
			So(fatal, ShouldBeTrue)
		})
	})

	Convey("A clean start exits with status 0", t, func() {
		status, fatal := startupStatus(nil)
		So(status, ShouldEqual, exitOK)
		So(fatal, ShouldBeFalse)
	})
}
