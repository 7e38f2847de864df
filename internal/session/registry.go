package session

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"mirrorcast/internal/metrics"
)

// Registry holds at most one active session. The current pointer is only
// ever swapped or compare-and-cleared; no lock is held across I/O.
type Registry struct {
	current atomic.Pointer[Session]
	log     zerolog.Logger
	metrics *metrics.Metrics

	gaugeMu sync.Mutex
}

func NewRegistry(log zerolog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{log: log, metrics: m}
}

// Attach makes s the current session. A previous session that is still open
// is closed as superseded after the swap, so it never sees traffic meant
// for s.
func (r *Registry) Attach(s *Session) {
	old := r.current.Swap(s)
	r.metrics.SessionsAttached.Inc()
	r.syncGauge()

	r.log.Info().Str("session", s.ID).Str("remote", s.RemoteAddr()).Msg("session attached")

	if old == nil || old == s {
		return
	}
	if !old.Closed() {
		r.metrics.SessionsSuperseded.Inc()
		r.log.Info().Str("session", old.ID).Str("by", s.ID).Msg("session superseded")
		if err := old.Close(ReasonSuperseded); err != nil {
			r.log.Debug().Err(err).Str("session", old.ID).Msg("close superseded session")
		}
	}
}

// Current returns the active session or nil.
func (r *Registry) Current() *Session {
	return r.current.Load()
}

// Detach clears the current session only if it is still s. It reports
// whether s was current.
func (r *Registry) Detach(s *Session) bool {
	if s == nil || !r.current.CompareAndSwap(s, nil) {
		return false
	}
	r.syncGauge()
	r.log.Info().Str("session", s.ID).Msg("session detached")
	return true
}

// Shutdown detaches and closes whatever session is current.
func (r *Registry) Shutdown(reason string) {
	s := r.current.Swap(nil)
	if s == nil {
		return
	}
	r.syncGauge()
	_ = s.Close(reason)
}

// syncGauge publishes whether a session is current. The value is read under
// gaugeMu so racing updates cannot leave a stale state behind.
func (r *Registry) syncGauge() {
	r.gaugeMu.Lock()
	defer r.gaugeMu.Unlock()
	if r.current.Load() != nil {
		r.metrics.SessionActive.Set(1)
	} else {
		r.metrics.SessionActive.Set(0)
	}
}
