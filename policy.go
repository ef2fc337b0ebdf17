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
	"fmt"
	"math"
	"time"
)

// Action is what a RestartPolicy wants done after a worker exits.
type Action int

const (
	ActionRestart Action = iota
	ActionRestartAfterDelay
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionRestart:
		return "restart"
	case ActionRestartAfterDelay:
		return "restart-after-delay"
	case ActionStop:
		return "stop"
	}
	return "unknown"
}

// Decision is the outcome of RestartPolicy.Decide.  Delay is only
// meaningful for ActionRestartAfterDelay.
type Decision struct {
	Action Action
	Delay  time.Duration
}

func (d Decision) String() string {
	if d.Action == ActionRestartAfterDelay {
		return fmt.Sprintf("%s(%v)", d.Action, d.Delay)
	}
	return d.Action.String()
}

// RestartPolicy decides whether a worker that has exited should come back,
// and how soon.  Delays grow exponentially with the number of consecutive
// restarts, up to MaxDelay.  If Threshold exits happen within Window, the
// worker is crash looping and the answer is ActionStop.
//
// A RestartPolicy is owned by a single worker and is not safe for
// concurrent use.
type RestartPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Threshold int
	Window    time.Duration

	exits []time.Time
	count int
}

// NewRestartPolicy builds the policy for a worker from its spec.
func NewRestartPolicy(spec *WorkerSpec) *RestartPolicy {
	p := &RestartPolicy{
		BaseDelay: spec.RestartDelay,
		MaxDelay:  spec.MaxRestartDelay,
		Threshold: spec.MaxRestarts,
		Window:    spec.RestartWindow,
	}
	p.Reset()
	return p
}

// Reset forgets the exit history, e.g. when an operator restarts a worker
// that gave up.
func (p *RestartPolicy) Reset() {
	p.count = 0
	if p.Threshold > 0 {
		p.exits = make([]time.Time, p.Threshold)
	} else {
		p.exits = nil
	}
}

// Decide records an exit at now.  restarts is the number of consecutive
// restarts that will have happened if this one goes ahead.
func (p *RestartPolicy) Decide(now time.Time, restarts int) Decision {
	if p.Threshold > 0 {
		if len(p.exits) != p.Threshold {
			p.Reset()
		}
		p.exits[p.count%p.Threshold] = now
		p.count++

		// The oldest of the last Threshold exits is the slot we'll
		// overwrite next.  If even that one is inside the window, we
		// have seen Threshold exits within it.
		if p.count >= p.Threshold {
			oldest := p.exits[p.count%p.Threshold]
			if now.Sub(oldest) < p.Window {
				return Decision{Action: ActionStop}
			}
		}
	}
	d := Backoff(restarts, p.BaseDelay, p.MaxDelay)
	if d <= 0 {
		return Decision{Action: ActionRestart}
	}
	return Decision{Action: ActionRestartAfterDelay, Delay: d}
}

// Backoff computes base * 2^(n-1), capped at max.  Zero or fewer restarts
// need no delay.  A zero max means no cap.
func Backoff(n int, base, max time.Duration) time.Duration {
	if n <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
