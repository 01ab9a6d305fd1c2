package synclayer

import "github.com/maxpoletaev/rollback"

// savedStates is the fixed-capacity Saved-State Ring: a circular array
// of snapshots addressable by frame via linear scan. Capacity is tiny
// (rollback.MaxPredictionFrames), so a linear scan beats a map keyed by
// frame both in speed and in giving the ring predictable memory
// layout — the same reasoning the teacher repo's netplay.Game applies
// to its single checkpoint, generalized here to a full ring so
// sync-test's check-distance window can reach back more than one
// frame.
type savedStates struct {
	states [rollback.MaxPredictionFrames]rollback.GameState
	head   int
}

func newSavedStates() savedStates {
	var s savedStates
	for i := range s.states {
		s.states[i] = rollback.BlankGameState()
	}
	return s
}

// save advances head by one (mod capacity) and places state there.
func (s *savedStates) save(state rollback.GameState) {
	if state.Frame == rollback.NullFrame {
		panic("synclayer: cannot save a state with NullFrame")
	}
	s.head = (s.head + 1) % len(s.states)
	s.states[s.head] = state
}

// stateAtHead returns the most recently saved snapshot.
func (s *savedStates) stateAtHead() rollback.GameState {
	return s.states[s.head]
}

// stateInPast returns the snapshot k positions before head, modulo
// capacity, using Euclidean (non-negative) remainder.
func (s *savedStates) stateInPast(k int) rollback.GameState {
	n := len(s.states)
	pos := ((s.head-k)%n + n) % n
	return s.states[pos]
}

// find returns the index of the slot whose frame equals the argument,
// scanning backward from head so that when a load followed by a fresh
// save leaves two slots with the same frame, the newer one is found.
// Absence is a programmer error: the caller must already know the
// frame was saved within the last MaxPredictionFrames saves.
func (s *savedStates) find(frame rollback.FrameNumber) int {
	n := len(s.states)
	for k := 0; k < n; k++ {
		i := ((s.head-k)%n + n) % n
		if s.states[i].Frame == frame {
			return i
		}
	}
	panic("synclayer: requested saved state could not be found")
}
