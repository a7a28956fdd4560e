package surface

import (
	"context"
	"time"
)

// token ties a loop to the generation that started it. Every suspension point
// re-checks it; once the state moves to another epoch the loop must stop.
type token struct {
	ctx   context.Context
	state *State
	epoch uint64
}

func (t token) Active() bool {
	if t.ctx.Err() != nil {
		return false
	}
	return t.state.current(t.epoch)
}

// Sleep waits for d and reports whether the token is still active afterwards.
func (t token) Sleep(d time.Duration) bool {
	if d <= 0 {
		return t.Active()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return t.Active()
	}
}
