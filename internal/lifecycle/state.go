package lifecycle

import "github.com/keithlinneman/h5p-web/internal/xerrors"

type State int32

const (
	Uninitialized State = iota
	Configuring
	Serving
	Terminating
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Configuring:
		return "configuring"
	case Serving:
		return "serving"
	case Terminating:
		return "terminating"
	default:
		return "unknown"
	}
}

// ErrBackwards is returned by Advance for a transition to the current or
// an earlier state.
var ErrBackwards = xerrors.WithKind(xerrors.New("lifecycle: state may only move forward"), xerrors.KindConflict)

// Advance moves the manager to s. Moving to the current or an earlier state
// is rejected with ErrBackwards.
func (m *Manager) Advance(s State) error {
	for {
		cur := State(m.state.Load())
		if s <= cur || s > Terminating {
			return xerrors.Wrapf(ErrBackwards, "%s -> %s", cur, s)
		}
		if m.state.CompareAndSwap(int32(cur), int32(s)) {
			m.logger.Info(m.ctx, "lifecycle state changed", "from", cur.String(), "to", s.String())
			if m.onState != nil {
				m.onState(s)
			}
			return nil
		}
	}
}

// State returns the current state.
func (m *Manager) State() State {
	return State(m.state.Load())
}
