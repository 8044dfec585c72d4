package log

import (
	"sync/atomic"

	"go.uber.org/zap/zapcore"
)

// resettableLevel is a zapcore.LevelEnabler whose level can be changed at runtime, e.g. from a
// --log-level flag parsed after the logger was built.  Methods take a value receiver; the
// contained pointer is the actual state.
type resettableLevel struct {
	cur *atomic.Int32
}

var _ zapcore.LevelEnabler = resettableLevel{}

// NewResettableLevelAt creates a new resettable level set to l.
func NewResettableLevelAt(l zapcore.Level) resettableLevel {
	rl := resettableLevel{cur: new(atomic.Int32)}
	rl.cur.Store(int32(l))
	return rl
}

// Level returns the current level.
func (rl resettableLevel) Level() zapcore.Level {
	return zapcore.Level(rl.cur.Load())
}

// Enabled implements zapcore.LevelEnabler.
func (rl resettableLevel) Enabled(l zapcore.Level) bool {
	return rl.Level().Enabled(l)
}

// String implements fmt.Stringer.
func (rl resettableLevel) String() string {
	return rl.Level().String()
}

// UnmarshalText implements encoding.TextUnmarshaler and sets the parsed level.
func (rl resettableLevel) UnmarshalText(text []byte) error {
	var l zapcore.Level
	if err := l.UnmarshalText(text); err != nil {
		return err //nolint:wrapcheck
	}
	rl.SetLevel(l)
	return nil
}

// SetLevel sets the current level.
func (rl resettableLevel) SetLevel(l zapcore.Level) {
	rl.cur.Store(int32(l))
}
