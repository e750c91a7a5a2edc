package logutil

import (
	"github.com/rs/zerolog"
)

// LevelSampler drops events below Level. It is used to keep the per-event
// debug logs of the dispatcher quiet unless asked for.
type LevelSampler struct {
	Level zerolog.Level
}

func (l LevelSampler) Sample(lvl zerolog.Level) bool {
	return lvl >= l.Level
}
