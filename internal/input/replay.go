// Package input performs strokes on the local machine.
package input

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mirrorcast/internal/types"
)

var (
	// ErrBusy means the replay queue is full and the strokes were dropped.
	ErrBusy   = errors.New("input: injector busy")
	ErrClosed = errors.New("input: injector closed")
)

// Device is a single absolute pointer with one button.
type Device interface {
	MoveTo(x, y int)
	Press()
	Release()
	Close()
}

type ReplayOptions struct {
	// QueueDepth is how many dispatches may wait behind the one playing.
	QueueDepth int
	// Step is the interval between interpolated pointer moves.
	Step time.Duration
}

type job struct {
	strokes []types.Stroke
	done    func(error)
}

// Replayer turns strokes into timed pointer events on a Device. Dispatches
// play one at a time, in order, on a worker goroutine.
type Replayer struct {
	dev   Device
	step  time.Duration
	log   zerolog.Logger
	sleep func(time.Duration)
	held  bool // button left down by a Hold stroke, owned by the worker

	queue chan job
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex
	shut  bool
}

func NewReplayer(dev Device, opts ReplayOptions, log zerolog.Logger) *Replayer {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 32
	}
	if opts.Step <= 0 {
		opts.Step = 16 * time.Millisecond
	}
	r := &Replayer{
		dev:   dev,
		step:  opts.Step,
		log:   log,
		sleep: time.Sleep,
		queue: make(chan job, opts.QueueDepth),
		stop:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Dispatch queues strokes without waiting for them to play.
func (r *Replayer) Dispatch(strokes []types.Stroke, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.shut {
		done(ErrClosed)
		return
	}
	select {
	case r.queue <- job{strokes: strokes, done: done}:
	default:
		done(ErrBusy)
	}
}

func (r *Replayer) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			// Fail whatever is still queued so every done fires.
			for {
				select {
				case j := <-r.queue:
					j.done(ErrClosed)
				default:
					return
				}
			}
		case j := <-r.queue:
			r.play(j.strokes)
			j.done(nil)
		}
	}
}

// play performs strokes in order. Delays are offsets from the start of the
// dispatch. A Continue stroke picks up a button already held; a Hold stroke
// leaves it down for the next one.
func (r *Replayer) play(strokes []types.Stroke) {
	var elapsed time.Duration
	wait := func(d time.Duration) {
		if d > 0 {
			r.sleep(d)
			elapsed += d
		}
	}
	for _, s := range strokes {
		if len(s.Path) == 0 {
			continue
		}
		wait(s.Delay - elapsed)

		if !s.Continue || !r.held {
			if r.held {
				r.dev.Release()
			}
			start := s.Start()
			r.dev.MoveTo(px(start.X), px(start.Y))
			r.dev.Press()
		}

		steps := int(s.Duration / r.step)
		if steps < 1 {
			steps = 1
		}
		for i := 1; i <= steps; i++ {
			wait(s.Duration / time.Duration(steps))
			p := along(s.Path, float64(i)/float64(steps))
			r.dev.MoveTo(px(p.X), px(p.Y))
		}
		r.held = s.Hold
		if !s.Hold {
			r.dev.Release()
		}
	}
}

// along returns the point at fraction t of the way through path, weighting
// each segment equally.
func along(path []types.Point, t float64) types.Point {
	if len(path) == 1 || t <= 0 {
		return path[0]
	}
	if t >= 1 {
		return path[len(path)-1]
	}
	pos := t * float64(len(path)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := path[i], path[i+1]
	return types.Point{X: a.X + (b.X-a.X)*f, Y: a.Y + (b.Y-a.Y)*f}
}

func px(v float64) int { return int(math.Round(v)) }

// Close stops the worker after the stroke in progress, lifts a held button
// and closes the device. Queued dispatches complete with ErrClosed.
func (r *Replayer) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.shut = true
		r.mu.Unlock()
		close(r.stop)
		r.wg.Wait()
		if r.held {
			r.dev.Release()
			r.held = false
		}
		r.dev.Close()
	})
}
