package input

import (
	"github.com/rs/zerolog"

	"mirrorcast/internal/types"
)

// Logger is an injector that only records what it would have done. It is
// used when no input backend is available.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger { return &Logger{log: log} }

func (l *Logger) Dispatch(strokes []types.Stroke, done func(error)) {
	for _, s := range strokes {
		start, end := s.Start(), s.End()
		l.log.Info().
			Float64("x", start.X).Float64("y", start.Y).
			Float64("endX", end.X).Float64("endY", end.Y).
			Int("points", len(s.Path)).
			Dur("delay", s.Delay).
			Dur("duration", s.Duration).
			Bool("continue", s.Continue).
			Bool("hold", s.Hold).
			Msg("stroke")
	}
	if done != nil {
		done(nil)
	}
}

func (l *Logger) Close() {}
