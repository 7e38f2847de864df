// Package broadcast runs the single send loop that moves frames from the
// conflation slot to whichever session is current.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"mirrorcast/internal/conflate"
	"mirrorcast/internal/metrics"
	"mirrorcast/internal/session"
	"mirrorcast/internal/types"
)

type Options struct {
	// StatsInterval enables a periodic pipeline summary log when > 0.
	StatsInterval time.Duration
}

// Broadcaster is safe to Publish to from the capture goroutine while Run
// executes on its own goroutine. Only one Run may be active.
type Broadcaster struct {
	slot     *conflate.Slot
	encoder  types.FrameEncoder
	registry *session.Registry
	metrics  *metrics.Metrics
	log      zerolog.Logger
	opts     Options

	stats stats
}

type stats struct {
	sent, discarded, congested, encodeFails, sendFails int
	encode, send                                       time.Duration
}

func New(enc types.FrameEncoder, reg *session.Registry, m *metrics.Metrics, log zerolog.Logger, opts Options) *Broadcaster {
	return &Broadcaster{
		slot:     conflate.New(),
		encoder:  enc,
		registry: reg,
		metrics:  m,
		log:      log,
		opts:     opts,
	}
}

// Publish hands a captured frame to the send loop. It never blocks.
func (b *Broadcaster) Publish(f *types.Frame) {
	b.metrics.FramesCaptured.Inc()
	if b.slot.Publish(f) {
		b.metrics.FramesConflated.Inc()
	}
}

// Run drains the slot until ctx is done. Failures are per frame and never
// stop the loop.
func (b *Broadcaster) Run(ctx context.Context) {
	var tick <-chan time.Time
	if b.opts.StatsInterval > 0 {
		t := time.NewTicker(b.opts.StatsInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			b.logStats()
		case <-b.slot.Ready():
			if f := b.slot.TakeLatest(); f != nil {
				b.send(f)
			}
		}
	}
}

func (b *Broadcaster) send(f *types.Frame) {
	sess := b.registry.Current()
	if sess == nil {
		b.metrics.FramesDiscarded.Inc()
		b.stats.discarded++
		return
	}

	t0 := time.Now()
	encoded, err := b.encoder.Encode(f)
	b.stats.encode = time.Since(t0)
	if err != nil {
		b.metrics.EncodeErrors.Inc()
		b.stats.encodeFails++
		if b.stats.encodeFails <= 5 {
			b.log.Warn().Err(err).Uint64("seq", f.Seq).Msg("encode error, frame skipped")
		}
		return
	}
	b.metrics.FramesEncoded.Inc()
	b.metrics.EncodeSeconds.Observe(b.stats.encode.Seconds())

	t1 := time.Now()
	err = sess.SendBinary(encoded.Data)
	b.stats.send = time.Since(t1)
	switch {
	case err == nil:
		b.metrics.FramesSent.Inc()
		b.stats.sent++
	case errors.Is(err, session.ErrCongested):
		b.metrics.FramesCongested.Inc()
		b.stats.congested++
	default:
		b.metrics.TransmitErrors.Inc()
		b.stats.sendFails++
		b.log.Info().Err(err).Str("session", sess.ID).Msg("transmit failed, detaching session")
		b.registry.Detach(sess)
		_ = sess.Close(session.ReasonTransmit)
	}
}

func (b *Broadcaster) logStats() {
	s := b.stats
	b.log.Info().
		Int("sent", s.sent).
		Int("discarded", s.discarded).
		Int("congested", s.congested).
		Int("encFail", s.encodeFails).
		Int("sendFail", s.sendFails).
		Uint64("conflated", b.slot.Conflated()).
		Dur("enc", s.encode.Round(time.Microsecond)).
		Dur("send", s.send.Round(time.Microsecond)).
		Msg("pipeline")
	b.stats = stats{}
}
