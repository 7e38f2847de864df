// Package gesture turns decoded control events into injectable strokes.
//
// The translator keeps one small state machine per pointer id. A pointer is
// Idle until a down arrives, then Touching until the matching up. Moves and
// ups that arrive out of order never fail; they are recovered or dropped.
package gesture

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mirrorcast/internal/control"
	"mirrorcast/internal/metrics"
	"mirrorcast/internal/types"
)

type State int

const (
	Idle State = iota
	Touching
)

func (s State) String() string {
	if s == Touching {
		return "touching"
	}
	return "idle"
}

// Config holds stroke timings. Zero fields are replaced by defaults.
type Config struct {
	Tap                time.Duration
	LongPressThreshold time.Duration
	LongPress          time.Duration
	Swipe              time.Duration
	Move               time.Duration
	DoubleTapGap       time.Duration
	// TapSlop is how far, in local pixels, an up may land from its down and
	// still count as a tap.
	TapSlop float64
	// MaxPointers bounds how many pointer ids may be touching at once.
	MaxPointers int
}

func DefaultConfig() Config {
	return Config{
		Tap:                100 * time.Millisecond,
		LongPressThreshold: 500 * time.Millisecond,
		LongPress:          500 * time.Millisecond,
		Swipe:              200 * time.Millisecond,
		Move:               50 * time.Millisecond,
		DoubleTapGap:       150 * time.Millisecond,
		TapSlop:            10,
		MaxPointers:        10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Tap <= 0 {
		c.Tap = d.Tap
	}
	if c.LongPressThreshold <= 0 {
		c.LongPressThreshold = d.LongPressThreshold
	}
	if c.LongPress <= 0 {
		c.LongPress = d.LongPress
	}
	if c.Swipe <= 0 {
		c.Swipe = d.Swipe
	}
	if c.Move <= 0 {
		c.Move = d.Move
	}
	if c.DoubleTapGap <= 0 {
		c.DoubleTapGap = d.DoubleTapGap
	}
	if c.TapSlop < 0 {
		c.TapSlop = 0
	}
	if c.MaxPointers <= 0 {
		c.MaxPointers = d.MaxPointers
	}
	return c
}

type pointer struct {
	state   State
	down    types.Point // mapped point of the down
	last    types.Point // mapped point of the latest down or move
	moved   bool
	held    bool // long press already dispatched
	pressed bool // a Hold stroke left the contact down
	timer   *time.Timer
	gen     uint64
}

// Translator is owned by one session. Handle may be called from the
// session's read loop while long-press timers fire on their own goroutines.
type Translator struct {
	geom    Geometry
	cfg     Config
	inj     types.InputInjector
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	pointers map[int]*pointer
	gen      uint64
	closed   bool
}

func New(geom Geometry, cfg Config, inj types.InputInjector, log zerolog.Logger, m *metrics.Metrics) *Translator {
	return &Translator{
		geom:     geom,
		cfg:      cfg.withDefaults(),
		inj:      inj,
		log:      log,
		metrics:  m,
		pointers: make(map[int]*pointer),
	}
}

func (t *Translator) Geometry() Geometry { return t.geom }

// State reports the state of one pointer.
func (t *Translator) State(id int) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p := t.pointers[id]; p != nil {
		return p.state
	}
	return Idle
}

// Live reports how many pointers are touching.
func (t *Translator) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pointers)
}

// Handle translates one event. It never blocks on injection.
func (t *Translator) Handle(ev control.Event) {
	var strokes []types.Stroke
	switch ev.Kind {
	case control.KindPointer:
		strokes = t.pointerEvent(ev)
	case control.KindGesture:
		strokes = t.gestureEvent(ev)
	}
	t.dispatch(strokes)
}

func (t *Translator) pointerEvent(ev control.Event) []types.Stroke {
	pt := t.geom.Remap(ev.X, ev.Y)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	p := t.pointers[ev.PointerID]
	switch ev.Phase {
	case control.PhaseDown:
		var strokes []types.Stroke
		if p != nil {
			t.log.Debug().Int("pointer", ev.PointerID).Msg("down while touching, restarting")
			stop(p)
			strokes = t.release(p)
		} else if !t.admit(ev.PointerID) {
			return nil
		}
		p = &pointer{state: Touching, down: pt, last: pt}
		t.pointers[ev.PointerID] = p
		t.armLongPress(ev.PointerID, p)
		return strokes

	case control.PhaseMove:
		if p == nil {
			if !t.admit(ev.PointerID) {
				return nil
			}
			t.log.Warn().Int("pointer", ev.PointerID).Float64("x", pt.X).Float64("y", pt.Y).
				Msg("move without down, treating as down")
			if t.metrics != nil {
				t.metrics.PointerRecoveries.Inc()
			}
			p = &pointer{state: Touching, down: pt, last: pt, moved: true, pressed: true}
			t.pointers[ev.PointerID] = p
			return []types.Stroke{{Path: []types.Point{pt, pt}, Duration: t.cfg.Move, Hold: true}}
		}
		stop(p)
		p.moved = true
		s := types.Stroke{Path: []types.Point{p.last, pt}, Duration: t.cfg.Move, Continue: p.pressed, Hold: true}
		p.pressed = true
		p.last = pt
		return []types.Stroke{s}

	case control.PhaseUp:
		if p == nil {
			t.log.Debug().Int("pointer", ev.PointerID).Msg("up without down, ignored")
			return nil
		}
		stop(p)
		delete(t.pointers, ev.PointerID)
		switch {
		case p.pressed:
			d := t.cfg.Move
			if pt == p.last {
				d = 0
			}
			return []types.Stroke{{Path: []types.Point{p.last, pt}, Duration: d, Continue: true}}
		case p.held:
			return nil
		case distance(p.down, pt) <= t.cfg.TapSlop:
			return []types.Stroke{{Path: []types.Point{p.down}, Duration: t.cfg.Tap}}
		default:
			return []types.Stroke{{Path: []types.Point{p.down, pt}, Duration: t.cfg.Swipe}}
		}
	}
	return nil
}

// admit reports whether a new pointer id may start touching. Must be called
// with t.mu held.
func (t *Translator) admit(id int) bool {
	if len(t.pointers) < t.cfg.MaxPointers {
		return true
	}
	t.log.Warn().Int("pointer", id).Int("live", len(t.pointers)).Msg("too many pointers, contact dropped")
	if t.metrics != nil {
		t.metrics.PointersRejected.Inc()
	}
	return false
}

// release lifts a contact left down by Hold strokes. Must be called with
// t.mu held.
func (t *Translator) release(p *pointer) []types.Stroke {
	if !p.pressed {
		return nil
	}
	p.pressed = false
	return []types.Stroke{{Path: []types.Point{p.last}, Continue: true}}
}

// armLongPress must be called with t.mu held.
func (t *Translator) armLongPress(id int, p *pointer) {
	t.gen++
	gen := t.gen
	p.gen = gen
	p.timer = time.AfterFunc(t.cfg.LongPressThreshold, func() { t.longPress(id, gen) })
}

func (t *Translator) longPress(id int, gen uint64) {
	t.mu.Lock()
	p := t.pointers[id]
	if t.closed || p == nil || p.gen != gen || p.moved || p.held {
		t.mu.Unlock()
		return
	}
	p.held = true
	p.timer = nil
	s := types.Stroke{Path: []types.Point{p.down}, Duration: t.cfg.LongPress}
	t.mu.Unlock()

	t.log.Debug().Int("pointer", id).Msg("long press")
	t.dispatch([]types.Stroke{s})
}

func (t *Translator) gestureEvent(ev control.Event) []types.Stroke {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil
	}

	pt := t.geom.Remap(ev.X, ev.Y)
	switch ev.Gesture {
	case control.GestureTap:
		return []types.Stroke{{Path: []types.Point{pt}, Duration: t.cfg.Tap}}
	case control.GestureDoubleTap:
		return []types.Stroke{
			{Path: []types.Point{pt}, Duration: t.cfg.Tap},
			{Path: []types.Point{pt}, Delay: t.cfg.Tap + t.cfg.DoubleTapGap, Duration: t.cfg.Tap},
		}
	case control.GestureLongPress:
		return []types.Stroke{{Path: []types.Point{pt}, Duration: t.cfg.LongPress}}
	case control.GestureSwipe:
		end := t.geom.Remap(ev.EndX, ev.EndY)
		return []types.Stroke{{Path: []types.Point{pt, end}, Duration: t.cfg.Swipe}}
	case control.GesturePinch:
		t.log.Info().Float64("scale", ev.Scale).Msg("pinch received, no injection available")
	}
	return nil
}

func (t *Translator) dispatch(strokes []types.Stroke) {
	if len(strokes) == 0 {
		return
	}
	if t.metrics != nil {
		t.metrics.StrokesDispatched.Add(float64(len(strokes)))
	}
	t.inj.Dispatch(strokes, func(err error) {
		if err == nil {
			return
		}
		t.log.Error().Err(err).Int("strokes", len(strokes)).Msg("gesture injection failed")
		if t.metrics != nil {
			t.metrics.InjectionFailures.Inc()
		}
	})
}

// Reset stops pending timers, lifts any contact still down and returns
// every pointer to Idle. The translator ignores events afterwards.
func (t *Translator) Reset() {
	var strokes []types.Stroke
	t.mu.Lock()
	for id, p := range t.pointers {
		stop(p)
		strokes = append(strokes, t.release(p)...)
		delete(t.pointers, id)
	}
	t.closed = true
	t.mu.Unlock()
	t.dispatch(strokes)
}

func stop(p *pointer) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func distance(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
