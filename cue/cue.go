/*
Package cue names the audible feedback the park gives for ledger events.

PURPOSE:
  The ledger reports what happened; a Player turns that into a sound, a log
  line, or nothing. The HTTP layer also returns the cue name so a browser can
  play it locally.

CUES:
  coin   Points granted (ADD rule)
  fail   Points deducted, purchase refused, wrong admin password
  magic  Purchase completed
*/
package cue

import (
	"sync"

	"go.uber.org/zap"

	"github.com/warp/points-park/points"
)

// Cue identifies one sound.
type Cue string

const (
	Coin  Cue = "coin"
	Fail  Cue = "fail"
	Magic Cue = "magic"
)

// ForAction returns the cue played when an action of type t is applied.
func ForAction(t points.ActionType) Cue {
	if t == points.ActionAdd {
		return Coin
	}
	return Fail
}

// Player plays cues. Implementations must not block the caller.
type Player interface {
	Play(c Cue)
}

// =============================================================================
// IMPLEMENTATIONS
// =============================================================================

// Log writes each cue to a logger at debug level.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Play(c Cue) {
	l.Logger.Debug("cue", zap.String("cue", string(c)))
}

// Recorder keeps every cue it was asked to play.
type Recorder struct {
	mu     sync.Mutex
	played []Cue
}

func (r *Recorder) Play(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.played = append(r.played, c)
}

// Played returns the cues in order.
func (r *Recorder) Played() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Cue(nil), r.played...)
}

// Nop plays nothing.
type Nop struct{}

func (Nop) Play(Cue) {}
