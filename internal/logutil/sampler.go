package logutil

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

var verbose atomic.Pointer[func() bool]

// SetVerbose lets every level through while f returns true. It's how the
// remote enable_logging flag turns on debug output at runtime.
func SetVerbose(f func() bool) {
	if f == nil {
		verbose.Store(nil)
		return
	}
	verbose.Store(&f)
}

type LevelSampler struct {
	Level zerolog.Level
}

func (l LevelSampler) Sample(lvl zerolog.Level) bool {
	if lvl >= l.Level {
		return true
	}
	if f := verbose.Load(); f != nil {
		return (*f)()
	}
	return false
}
