package worker

import "go.uber.org/zap"

// State is a worker's position in the Register/Poll/Reap/Drain/Exit state
// machine of spec §4.3.
type State int

const (
	StateRegistered State = iota
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// lifecycle tracks and logs this worker's state transitions. It has a
// single writer — the worker loop goroutine — so it carries no lock,
// mirroring instanceCache and the resolver's executable cache.
type lifecycle struct {
	id    string
	state State
	log   *zap.SugaredLogger
}

func newLifecycle(id string, log *zap.SugaredLogger) *lifecycle {
	return &lifecycle{id: id, state: StateRegistered, log: log}
}

func (l *lifecycle) setState(next State, reason string) {
	if l.state == next {
		return
	}
	l.log.Infow("worker state transition",
		"worker_id", l.id,
		"from", l.state.String(),
		"to", next.String(),
		"reason", reason,
	)
	l.state = next
}

func (l *lifecycle) State() State {
	return l.state
}
