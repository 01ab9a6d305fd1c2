// Package synclayer implements the Sync Layer: N per-player Input
// Queues plus one Saved-State Ring, exposing frame advance, save/load,
// input ingestion, synchronized-input retrieval, and confirmation.
//
// This is a generalization of the teacher repo's netplay.Game, which
// hardcodes two players and a single checkpoint
// (alex-yte-dendy/netplay/game.go). The shape of the rollback here —
// rewind to the last synchronized checkpoint, replay known inputs,
// then replay the remainder with predicted ones — is the same idea
// netplay.Game.applyRemoteInput implements; the Sync Layer pulls it
// apart into reusable pieces (inputqueue.Queue per player, a real ring
// of saved states instead of one checkpoint) so that callers like
// rollback/synctest can drive rollback/resimulate verification
// explicitly, frame by frame, rather than have it happen implicitly
// inside one method.
package synclayer

import (
	"github.com/google/uuid"

	"github.com/maxpoletaev/rollback"
	"github.com/maxpoletaev/rollback/inputqueue"
	"github.com/maxpoletaev/rollback/internal/metrics"
)

// SyncLayer owns the per-player input queues and the saved-state ring
// for one simulation.
type SyncLayer struct {
	ID uuid.UUID

	numPlayers int
	inputSize  int

	currentFrame       rollback.FrameNumber
	lastConfirmedFrame rollback.FrameNumber
	rollingBack        bool

	queues []*inputqueue.Queue
	states savedStates

	metrics *metrics.Recorder
}

// New creates a SyncLayer with numPlayers empty input queues and a
// saved-state ring pre-filled with blank snapshots.
func New(numPlayers, inputSize int, rec *metrics.Recorder) *SyncLayer {
	queues := make([]*inputqueue.Queue, numPlayers)
	for i := range queues {
		queues[i] = inputqueue.New(rollback.PlayerHandle(i), inputSize)
	}

	return &SyncLayer{
		ID:                 uuid.New(),
		numPlayers:         numPlayers,
		inputSize:          inputSize,
		currentFrame:       0,
		lastConfirmedFrame: rollback.NullFrame,
		queues:             queues,
		states:             newSavedStates(),
		metrics:            rec,
	}
}

// CurrentFrame returns the frame the simulation is about to execute.
func (s *SyncLayer) CurrentFrame() rollback.FrameNumber {
	return s.currentFrame
}

// LastConfirmedFrame returns the highest frame for which every
// player's input is known to be authoritative.
func (s *SyncLayer) LastConfirmedFrame() rollback.FrameNumber {
	return s.lastConfirmedFrame
}

// RollingBack reports whether the layer is currently re-executing
// frames as part of a rollback.
func (s *SyncLayer) RollingBack() bool {
	return s.rollingBack
}

// SetRollingBack is used by callers that drive rollback explicitly
// (rollback/synctest) to mark the re-simulation window.
func (s *SyncLayer) SetRollingBack(v bool) {
	s.rollingBack = v
}

// AdvanceFrame increments currentFrame. It has no other effects; the
// host decides when to call it.
func (s *SyncLayer) AdvanceFrame() {
	s.currentFrame++
}

// SaveCurrentState stores state into the ring at a newly advanced
// head. state.Frame must not be rollback.NullFrame.
func (s *SyncLayer) SaveCurrentState(state rollback.GameState) {
	if state.Frame == rollback.NullFrame {
		panic("synclayer: save_current_state requires a non-null frame")
	}
	s.states.save(state)
}

// LastSavedState returns the snapshot at head, and false if its frame
// is rollback.NullFrame (i.e. nothing has ever been saved).
func (s *SyncLayer) LastSavedState() (rollback.GameState, bool) {
	st := s.states.stateAtHead()
	if st.Frame == rollback.NullFrame {
		return rollback.GameState{}, false
	}
	return st, true
}

// LoadFrame locates the ring entry for frame f, repositions head one
// slot past it (as though f had just finished executing), sets
// currentFrame to f, and returns the loaded snapshot.
//
// Preconditions: f != NullFrame, f < currentFrame, and
// f >= currentFrame - MaxPredictionFrames. Violations are fatal.
func (s *SyncLayer) LoadFrame(f rollback.FrameNumber) rollback.GameState {
	if f == rollback.NullFrame || f >= s.currentFrame || f < s.currentFrame-rollback.MaxPredictionFrames {
		panic("synclayer: load_frame precondition violated")
	}

	idx := s.states.find(f)
	loaded := s.states.states[idx]
	if loaded.Frame != f {
		panic("synclayer: ring index/frame mismatch")
	}

	s.states.head = (idx + 1) % len(s.states.states)
	s.currentFrame = f

	return loaded
}

// AddLocalInput delegates to the given player's queue after checking
// the prediction threshold: if currentFrame - lastConfirmedFrame would
// exceed MaxPredictionFrames, it fails with PredictionThreshold rather
// than storing anything.
func (s *SyncLayer) AddLocalInput(player rollback.PlayerHandle, input rollback.FrameInput) (rollback.FrameNumber, error) {
	framesBehind := int(s.currentFrame) - int(s.lastConfirmedFrame)
	if framesBehind > rollback.MaxPredictionFrames {
		return rollback.NullFrame, rollback.Err(rollback.PredictionThreshold)
	}

	if input.Frame != s.currentFrame {
		panic("synclayer: add_local_input frame must equal current_frame")
	}

	before := s.queues[player].FirstIncorrectFrame()
	stored := s.queues[player].AddInput(input)
	if s.queues[player].FirstIncorrectFrame() != before {
		s.RecordPredictionMiss(player)
	}
	return stored, nil
}

// AddRemoteInput delegates directly to the player's queue without the
// prediction-threshold check; the queue still applies the player's
// configured frame delay.
func (s *SyncLayer) AddRemoteInput(player rollback.PlayerHandle, input rollback.FrameInput) rollback.FrameNumber {
	before := s.queues[player].FirstIncorrectFrame()
	stored := s.queues[player].AddRemoteInput(input)
	if s.queues[player].FirstIncorrectFrame() != before {
		s.RecordPredictionMiss(player)
	}
	return stored
}

// SynchronizedInputs returns one FrameInput per player for
// currentFrame, synthesizing predictions where no authoritative input
// is stored yet.
func (s *SyncLayer) SynchronizedInputs() []rollback.FrameInput {
	inputs := make([]rollback.FrameInput, s.numPlayers)
	for i, q := range s.queues {
		inputs[i] = q.Input(s.currentFrame)
	}
	return inputs
}

// ConfirmedInputs returns the authoritative inputs for currentFrame.
// It is a programmer error to call this before every player has a
// stored authoritative input at that frame.
func (s *SyncLayer) ConfirmedInputs() []rollback.FrameInput {
	inputs := make([]rollback.FrameInput, s.numPlayers)
	for i, q := range s.queues {
		inputs[i] = q.ConfirmedInput(s.currentFrame)
	}
	return inputs
}

// SetLastConfirmedFrame raises lastConfirmedFrame and discards any
// stored input strictly before f-1 on every queue, since raising the
// confirmed frame means those inputs are no longer needed.
func (s *SyncLayer) SetLastConfirmedFrame(f rollback.FrameNumber) {
	s.lastConfirmedFrame = f
	if f > 0 {
		for _, q := range s.queues {
			q.DiscardConfirmedFrames(f - 1)
		}
	}
}

// SetFrameDelay clamps delay to MaxInputDelay and delegates to the
// player's queue. Callers must ensure this happens before the session
// starts running.
func (s *SyncLayer) SetFrameDelay(player rollback.PlayerHandle, delay int) {
	if delay > rollback.MaxInputDelay {
		delay = rollback.MaxInputDelay
	}
	if delay < 0 {
		delay = 0
	}
	s.queues[player].SetFrameDelay(delay)
}

// ResetPrediction clears prediction state from f forward on every
// queue.
func (s *SyncLayer) ResetPrediction(f rollback.FrameNumber) {
	for _, q := range s.queues {
		q.ResetPrediction(f)
	}
}

// RecordRollbackDepth reports how many frames a single rollback
// re-simulated, for the optional metrics recorder.
func (s *SyncLayer) RecordRollbackDepth(frames int) {
	if s.metrics != nil {
		s.metrics.ObserveRollbackDepth(s.ID, frames)
	}
}

// RecordPredictionMiss reports a first_incorrect_frame event for the
// optional metrics recorder.
func (s *SyncLayer) RecordPredictionMiss(player rollback.PlayerHandle) {
	if s.metrics != nil {
		s.metrics.IncPredictionMiss(s.ID, int(player))
	}
}
