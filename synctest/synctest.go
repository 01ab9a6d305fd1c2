// Package synctest implements the Sync-Test Session, the determinism
// harness this engine's other session types rest on: every frame it
// saves, advances, and — once enough history has accumulated — loads
// a past frame back and re-advances to the present, comparing
// host-supplied checksums along the way. A mismatch means the
// simulation is not deterministic, which would silently corrupt any
// real rollback between peers.
//
// This is a from-scratch generalization of
// alex-yte-dendy/netplay/game.go's applyRemoteInput, which performs
// the same rewind-replay-compare shape for exactly two players with a
// single checkpoint; here the replay is driven by rollback/synclayer's
// saved-state ring and by explicit FrameInfo history instead of being
// folded into one big method.
package synctest

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maxpoletaev/rollback"
	"github.com/maxpoletaev/rollback/internal/metrics"
	"github.com/maxpoletaev/rollback/synclayer"
)

// Player identifies one participant to add to the session.
type Player struct {
	Handle rollback.PlayerHandle
}

// frameInfo is one entry of the session's own history, independent of
// whatever the sync layer currently holds in its saved-state ring —
// rollback may overwrite that ring between the save and the later
// compare, so history always holds its own copies.
type frameInfo struct {
	frame rollback.FrameNumber
	state rollback.GameState
	input rollback.FrameInput
}

// Session drives a synclayer.SyncLayer through a continuous
// rollback-and-resimulate loop.
type Session struct {
	ID uuid.UUID

	checkDistance int
	numPlayers    int
	inputSize     int

	running      bool
	currentFrame rollback.FrameNumber
	currentInput rollback.FrameInput

	history   []frameInfo // ring buffer of at most MaxPredictionFrames entries
	histStart int
	histLen   int

	layer   *synclayer.SyncLayer
	metrics *metrics.Recorder
	logger  *log.Logger
}

// New creates a Session. checkDistance must be in
// [0, rollback.MaxPredictionFrames); passing MaxPredictionFrames or
// more is a configuration error from the host, so it panics rather
// than returning a flow-control error — there is no sensible running
// state for a session.
func New(checkDistance, numPlayers, inputSize int, reg prometheus.Registerer) *Session {
	if checkDistance < 0 || checkDistance >= rollback.MaxPredictionFrames {
		panic(fmt.Sprintf("synctest: check_distance %d out of range [0,%d)", checkDistance, rollback.MaxPredictionFrames))
	}

	rec := metrics.New(reg)

	return &Session{
		ID:            uuid.New(),
		checkDistance: checkDistance,
		numPlayers:    numPlayers,
		inputSize:     inputSize,
		currentFrame:  rollback.NullFrame,
		currentInput:  rollback.NewFrameInput(rollback.NullFrame, inputSize),
		history:       make([]frameInfo, rollback.MaxPredictionFrames),
		layer:         synclayer.New(numPlayers, inputSize, rec),
		metrics:       rec,
		logger:        log.NewWithOptions(os.Stderr, log.Options{Prefix: "synctest"}),
	}
}

// AddPlayer validates p.Handle < numPlayers; the session itself stores
// nothing else, since player identity already lives in the sync
// layer's queues by index.
func (s *Session) AddPlayer(p Player) error {
	if int(p.Handle) >= s.numPlayers {
		return rollback.Err(rollback.InvalidRequest)
	}
	return nil
}

// StartSession fails with InvalidRequest if already running;
// otherwise marks the session running and resets currentFrame to 0.
func (s *Session) StartSession() error {
	if s.running {
		return rollback.Err(rollback.InvalidRequest)
	}
	s.running = true
	s.currentFrame = 0
	return nil
}

// AddLocalInput copies bytes into the in-flight current input and
// submits it to the sync layer.
func (s *Session) AddLocalInput(handle rollback.PlayerHandle, bytes []byte) error {
	if !s.running {
		return rollback.Err(rollback.NotSynchronized)
	}
	if int(handle) >= s.numPlayers {
		return rollback.Err(rollback.InvalidPlayerHandle)
	}

	copy(s.currentInput.Bits, bytes)
	s.currentInput.Frame = s.currentFrame

	if _, err := s.layer.AddLocalInput(handle, s.currentInput); err != nil {
		return err
	}
	return nil
}

// CurrentInputBits exposes the in-progress current input's bits for
// inspection (tests and hosts assembling multi-player input within a
// frame rely on this).
func (s *Session) CurrentInputBits() []byte {
	return s.currentInput.Bits
}

// AdvanceFrame saves the pre-advance state, retrieves synchronized
// inputs, advances host and layer by one frame, then — once enough
// history has accumulated — rewinds checkDistance frames and
// re-advances, comparing checksums against the originals.
//
// At the end of every rollback check the session "cheats" by setting
// the sync layer's last confirmed frame to current-checkDistance; calls
// that skip the check (while history holds checkDistance entries or
// fewer, or whenever checkDistance == 0) leave it unchanged. This is
// specific to sync-test mode: it keeps the prediction-threshold gate
// from ever firing since there is no network peer to confirm frames
// against. A real networked session must never do this; it has to
// drive the confirmed frame from actual peer acknowledgments.
func (s *Session) AdvanceFrame(host rollback.Host) error {
	saved := host.SaveGameState()
	s.layer.SaveCurrentState(saved)

	lastSaved, ok := s.layer.LastSavedState()
	if !ok {
		return rollback.Errf(rollback.GeneralFailure, "sync layer did not return a last saved state")
	}

	s.pushHistory(frameInfo{
		frame: s.currentFrame,
		state: lastSaved,
		input: s.currentInput.Clone(),
	})

	inputs := s.layer.SynchronizedInputs()
	if len(inputs) == 0 || inputs[0].Frame != s.currentFrame {
		return rollback.Errf(rollback.GeneralFailure, "synchronized inputs frame mismatch")
	}

	host.AdvanceFrame(inputs, 0)
	s.layer.AdvanceFrame()
	s.currentFrame++
	s.currentInput = rollback.NewFrameInput(s.currentFrame, s.inputSize)

	// check_distance == 0 would ask verifyRollback to load the frame
	// that just finished, violating LoadFrame's f < currentFrame
	// precondition. There is nothing to verify against with a zero
	// window anyway, so the rollback block is skipped entirely.
	if s.checkDistance > 0 && s.histLen > s.checkDistance {
		if err := s.verifyRollback(host); err != nil {
			return err
		}
	}

	if s.layer.CurrentFrame() != s.currentFrame {
		return rollback.Errf(rollback.GeneralFailure, "sync layer frame %d diverged from session frame %d", s.layer.CurrentFrame(), s.currentFrame)
	}

	return nil
}

// verifyRollback rewinds checkDistance frames, then re-advances back
// to the present, comparing checksums with the FrameInfo history
// recorded on the way there.
func (s *Session) verifyRollback(host rollback.Host) error {
	target := s.currentFrame - rollback.FrameNumber(s.checkDistance)

	s.layer.SetRollingBack(true)
	defer s.layer.SetRollingBack(false)

	loaded := s.layer.LoadFrame(target)
	host.LoadGameState(loaded)

	if s.layer.CurrentFrame() != target {
		return rollback.Errf(rollback.GeneralFailure, "load_frame landed on %d, expected %d", s.layer.CurrentFrame(), target)
	}

	for i := s.checkDistance - 1; i >= 0; i-- {
		saved := host.SaveGameState()
		s.layer.SaveCurrentState(saved)

		posInHistory := s.histLen - 1 - i
		original := s.historyAt(posInHistory)

		expectedFrame := target + rollback.FrameNumber(s.checkDistance-1-i)
		if original.frame != expectedFrame || s.layer.CurrentFrame() != original.frame {
			return rollback.Errf(rollback.GeneralFailure, "rollback history position %d frame mismatch: got %d/%d, want %d", posInHistory, original.frame, s.layer.CurrentFrame(), expectedFrame)
		}

		lastSaved, ok := s.layer.LastSavedState()
		if ok && lastSaved.HasCRC && original.state.HasCRC {
			if lastSaved.Checksum != original.state.Checksum {
				s.metrics.IncSyncTestFailure()
				s.logger.Error("checksum mismatch during resimulation", "frame", original.frame, "got", lastSaved.Checksum, "want", original.state.Checksum)
				return rollback.Err(rollback.SyncTestFailed)
			}
		}

		inputs := s.layer.SynchronizedInputs()
		s.layer.AdvanceFrame()
		host.AdvanceFrame(inputs, 0)
	}

	s.logger.Debug("resimulated window", "frames", s.checkDistance, "target", target, "current", s.currentFrame)
	s.layer.RecordRollbackDepth(s.checkDistance)

	final := host.SaveGameState()
	if final.Frame != s.currentFrame || s.layer.CurrentFrame() != s.currentFrame {
		return rollback.Errf(rollback.GeneralFailure, "post-resimulation frame mismatch: host=%d layer=%d want=%d", final.Frame, s.layer.CurrentFrame(), s.currentFrame)
	}

	// Sync-test "cheat": there is no network peer to confirm frames
	// against, so we manually raise last_confirmed_frame to keep
	// add_local_input's prediction-threshold gate unarmed.
	s.layer.SetLastConfirmedFrame(s.currentFrame - rollback.FrameNumber(s.checkDistance))

	return nil
}

// pushHistory appends fi as the newest entry, overwriting the oldest
// once the ring has filled to MaxPredictionFrames entries.
func (s *Session) pushHistory(fi frameInfo) {
	capacity := len(s.history)
	if s.histLen < capacity {
		idx := (s.histStart + s.histLen) % capacity
		s.history[idx] = fi
		s.histLen++
		return
	}
	s.history[s.histStart] = fi
	s.histStart = (s.histStart + 1) % capacity
}

// historyAt returns the pos'th oldest entry still in history
// (0 == oldest), matching CircularBuffer::get in the Rust original.
func (s *Session) historyAt(pos int) frameInfo {
	return s.history[(s.histStart+pos)%len(s.history)]
}

// Idle is a no-op: a sync-test session has no network surface, so
// there is nothing to do between frames.
func (s *Session) Idle(host rollback.Host) {}

// SetFrameDelay fails with InvalidRequest if already running;
// otherwise delegates to the sync layer.
func (s *Session) SetFrameDelay(delay int, handle rollback.PlayerHandle) error {
	if s.running {
		return rollback.Err(rollback.InvalidRequest)
	}
	s.layer.SetFrameDelay(handle, delay)
	return nil
}

// DisconnectPlayer is meaningless for a sync-test session.
func (s *Session) DisconnectPlayer(rollback.PlayerHandle) error {
	return rollback.Err(rollback.Unsupported)
}

// GetNetworkStats is meaningless for a sync-test session.
func (s *Session) GetNetworkStats(rollback.PlayerHandle) error {
	return rollback.Err(rollback.Unsupported)
}

// SetDisconnectTimeout is meaningless for a sync-test session.
func (s *Session) SetDisconnectTimeout(uint32) error {
	return rollback.Err(rollback.Unsupported)
}

// SetDisconnectNotifyDelay is meaningless for a sync-test session.
func (s *Session) SetDisconnectNotifyDelay(uint32) error {
	return rollback.Err(rollback.Unsupported)
}
