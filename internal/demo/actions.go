// Package demo holds the sample actions shipped with the plugin binary.
package demo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/mattjoyce/deckrelay/internal/action"
	"github.com/mattjoyce/deckrelay/internal/protocol"
)

// UUID prefix the sample actions are published under.
const Namespace = "com.mattjoyce.deckrelay."

// Actions returns the descriptors for every sample action.
func Actions() []action.Descriptor {
	return []action.Descriptor{
		action.Define[RandomNumberSettings](Namespace+"RandomNumber", func() action.Instance { return &RandomNumber{} }),
		action.Define[action.NoSettings](Namespace+"FixedRandomNumber", func() action.Instance { return &FixedRandomNumber{} }),
		action.Define[action.NoSettings](Namespace+"Timer", func() action.Instance { return &Timer{} }),
		action.Define[action.NoSettings](Namespace+"ThrowError", func() action.Instance { return &ThrowError{} }),
	}
}

// Registry builds the registry for the sample actions and the standard
// event table.
func Registry() (*action.Registry, error) {
	return action.NewRegistry(Actions(), action.StandardEvents())
}

// RandomNumberSettings bound the generated number, inclusive. Both zero
// means 1 to 6.
type RandomNumberSettings struct {
	Minimum int `json:"minimum"`
	Maximum int `json:"maximum"`
}

func (s RandomNumberSettings) bounds() (int, int, error) {
	if s.Minimum == 0 && s.Maximum == 0 {
		return 1, 6, nil
	}
	if s.Maximum < s.Minimum {
		return 0, 0, fmt.Errorf("maximum %d is below minimum %d", s.Maximum, s.Minimum)
	}
	return s.Minimum, s.Maximum, nil
}

// RandomNumber titles the key with a random number on every press.
type RandomNumber struct {
	action.Base[RandomNumberSettings]
	intN func(int) int
}

func (a *RandomNumber) OnKeyDown(ctx context.Context, _ string, p action.KeyPayload[RandomNumberSettings]) error {
	lo, hi, err := p.Settings.bounds()
	if err != nil {
		return err
	}
	a.SetTitle(ctx, strconv.Itoa(lo+a.roll(hi-lo+1)), protocol.TargetBoth, p.State)
	return nil
}

func (a *RandomNumber) roll(n int) int {
	if a.intN != nil {
		return a.intN(n)
	}
	return rand.Intn(n)
}

// FixedRandomNumber titles the key with a die roll.
type FixedRandomNumber struct {
	action.Base[action.NoSettings]
	intN func(int) int
}

func (a *FixedRandomNumber) OnKeyDown(ctx context.Context, _ string, p action.KeyPayload[action.NoSettings]) error {
	roll := rand.Intn
	if a.intN != nil {
		roll = a.intN
	}
	a.SetTitle(ctx, strconv.Itoa(1+roll(6)), protocol.TargetBoth, p.State)
	return nil
}

// ErrDeliberate is what ThrowError returns on every press.
var ErrDeliberate = errors.New("deliberate failure")

// ThrowError fails on every press so the key shows an alert.
type ThrowError struct {
	action.Base[action.NoSettings]
}

func (a *ThrowError) OnKeyDown(context.Context, string, action.KeyPayload[action.NoSettings]) error {
	return ErrDeliberate
}

// Timer shows elapsed time on the key. The first press starts it, later
// presses toggle pause, and it stops when the key disappears.
type Timer struct {
	action.Base[action.NoSettings]

	// tick defaults to one second.
	tick time.Duration
	now  func() time.Time

	mu      sync.Mutex
	running bool
	paused  bool
	elapsed time.Duration
	started time.Time
	stop    context.CancelFunc
}

func (t *Timer) OnKeyDown(ctx context.Context, _ string, _ action.KeyPayload[action.NoSettings]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.now == nil {
		t.now = time.Now
	}
	if !t.running {
		t.running = true
		t.started = t.now()
		runCtx, cancel := context.WithCancel(ctx)
		t.stop = cancel
		go t.run(runCtx)
		return nil
	}

	if t.paused {
		t.started = t.now()
	} else {
		t.elapsed += t.now().Sub(t.started)
	}
	t.paused = !t.paused
	return nil
}

func (t *Timer) OnWillDisappear(context.Context, string, action.AppearancePayload[action.NoSettings]) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
	}
	t.running, t.paused, t.elapsed, t.stop = false, false, 0, nil
	return nil
}

// Elapsed reports the accumulated time, excluding pauses.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsedLocked()
}

func (t *Timer) elapsedLocked() time.Duration {
	if !t.running || t.paused {
		return t.elapsed
	}
	return t.elapsed + t.now().Sub(t.started)
}

func (t *Timer) run(ctx context.Context) {
	tick := t.tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		paused, elapsed := t.paused, t.elapsedLocked()
		t.mu.Unlock()
		if !paused {
			t.SetTitle(ctx, FormatElapsed(elapsed), protocol.TargetBoth, 0)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FormatElapsed renders d as hh:mm:ss.
func FormatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
