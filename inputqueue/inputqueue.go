// Package inputqueue implements the per-player Input Queue: a
// frame-indexed ring of authoritative and predicted inputs with delay,
// prediction, and confirmation bookkeeping.
//
// The ring layout mirrors the Saved-State Ring's choice of a fixed
// array with head/tail cursors rather than a map keyed by frame
// (rollback/synclayer follows the same reasoning): windows are bounded
// by rollback.MaxPredictionFrames, so linear indexing beats hashing
// and gives predictable memory layout.
package inputqueue

import (
	"bytes"
	"fmt"

	"github.com/maxpoletaev/rollback"
)

// capacity must hold at least MaxPredictionFrames entries plus slack
// for the largest accepted input delay, so that a fully-delayed queue
// never wraps into frames still needed for rollback.
const capacity = rollback.MaxPredictionFrames*2 + rollback.MaxInputDelay

// Queue is the Input Queue for a single player.
type Queue struct {
	player rollback.PlayerHandle

	inputs    [capacity]rollback.FrameInput
	head      int
	tail      int
	length    int
	inputSize int

	frameDelay          int
	lastUserAddedFrame  rollback.FrameNumber
	firstIncorrectFrame rollback.FrameNumber
	lastRequestedFrame  rollback.FrameNumber

	prediction    rollback.FrameInput
	hasPrediction bool
}

// New returns an empty queue for the given player and input size.
func New(player rollback.PlayerHandle, inputSize int) *Queue {
	q := &Queue{
		player:              player,
		inputSize:           inputSize,
		lastUserAddedFrame:  rollback.NullFrame,
		firstIncorrectFrame: rollback.NullFrame,
		lastRequestedFrame:  rollback.NullFrame,
	}
	return q
}

// FirstIncorrectFrame returns the lowest frame where a previously
// returned prediction was later contradicted by an authoritative
// input, or rollback.NullFrame if none.
func (q *Queue) FirstIncorrectFrame() rollback.FrameNumber {
	return q.firstIncorrectFrame
}

// LastConfirmedFrame returns the highest frame with a stored
// authoritative input, or rollback.NullFrame if the queue is empty.
func (q *Queue) LastConfirmedFrame() rollback.FrameNumber {
	if q.length == 0 {
		return rollback.NullFrame
	}
	return q.inputAt(q.lastIndex()).Frame
}

// SetFrameDelay sets the per-player input delay. Must only be called
// while the queue is empty or all stored frames precede the caller's
// current frame; "before session start" is enforced from above by
// synctest.Session.SetFrameDelay, not by this queue or the sync layer.
func (q *Queue) SetFrameDelay(delay int) {
	if delay < 0 || delay > rollback.MaxInputDelay {
		panic(fmt.Sprintf("inputqueue: delay %d out of range [0,%d]", delay, rollback.MaxInputDelay))
	}
	q.frameDelay = delay
}

func (q *Queue) lastIndex() int {
	idx := q.tail - 1
	if idx < 0 {
		idx += capacity
	}
	return idx
}

func (q *Queue) inputAt(idx int) rollback.FrameInput {
	return q.inputs[idx]
}

func (q *Queue) pushBack(in rollback.FrameInput) {
	if q.length >= capacity {
		panic("inputqueue: ring overflow, increase capacity or discard sooner")
	}
	q.inputs[q.tail] = in
	q.tail = (q.tail + 1) % capacity
	q.length++
}

// AddInput stores a local input, applying the configured frame delay.
// input.Frame must equal the next expected user frame (tracked
// externally by the sync layer). Returns the frame the input was
// actually stored at, which only differs from input.Frame when
// frameDelay > 0.
func (q *Queue) AddInput(in rollback.FrameInput) rollback.FrameNumber {
	expected := q.lastUserAddedFrame + 1
	if in.Frame != expected {
		panic(fmt.Sprintf("inputqueue: player %d expected user frame %d, got %d", q.player, expected, in.Frame))
	}
	q.lastUserAddedFrame = in.Frame

	return q.storeDelayed(in)
}

// AddRemoteInput stores a remote input through the same delay-applying
// path as AddInput, but without the monotonic "next user frame" check:
// a remote peer's queue here mirrors that peer's own queue exactly, so
// it is driven by the same per-player frameDelay configured locally
// rather than by a separate no-delay code path.
func (q *Queue) AddRemoteInput(in rollback.FrameInput) rollback.FrameNumber {
	return q.storeDelayed(in)
}

// storeDelayed fills any delay-induced gap frames with duplicates of
// the previous input's bits (or zeroed bits if this is the first input
// ever), then stores in.Bits at in.Frame+frameDelay.
func (q *Queue) storeDelayed(in rollback.FrameInput) rollback.FrameNumber {
	storedFrame := in.Frame + rollback.FrameNumber(q.frameDelay)

	nextFrame := q.nextStoredFrame()
	for nextFrame < storedFrame {
		gapBits := q.lastStoredBits()
		q.storeAt(nextFrame, gapBits)
		nextFrame++
	}

	q.storeAt(storedFrame, in.Bits)

	return storedFrame
}

func (q *Queue) nextStoredFrame() rollback.FrameNumber {
	if q.length == 0 {
		return 0
	}
	return q.inputAt(q.lastIndex()).Frame + 1
}

func (q *Queue) lastStoredBits() []byte {
	if q.length == 0 {
		return make([]byte, q.inputSize)
	}
	return q.inputAt(q.lastIndex()).Clone().Bits
}

// storeAt appends bits at the given frame, checking it against any
// outstanding prediction. The prediction's bits are held constant from
// the frame they were first handed out for onward (Input never
// updates prediction.Frame on repeat calls), so any authoritative
// frame at or after that point is a fair comparison, not just the one
// exact frame the prediction record happens to carry.
func (q *Queue) storeAt(frame rollback.FrameNumber, bits []byte) {
	stored := rollback.FrameInput{Frame: frame, Bits: append([]byte(nil), bits...)}

	if q.hasPrediction && frame >= q.prediction.Frame {
		if !bytes.Equal(stored.Bits, q.prediction.Bits) {
			if q.firstIncorrectFrame == rollback.NullFrame || frame < q.firstIncorrectFrame {
				q.firstIncorrectFrame = frame
			}
		}
	}

	q.pushBack(stored)
}

// Input returns the stored authoritative input for requestedFrame if
// present; otherwise it returns (and remembers) a prediction built
// from the bits of the last authoritative input, or zero bits if
// there is none yet.
func (q *Queue) Input(requestedFrame rollback.FrameNumber) rollback.FrameInput {
	if q.lastRequestedFrame == rollback.NullFrame || requestedFrame > q.lastRequestedFrame {
		q.lastRequestedFrame = requestedFrame
	}

	if idx, ok := q.find(requestedFrame); ok {
		return q.inputAt(idx).Clone()
	}

	if q.hasPrediction {
		return rollback.FrameInput{Frame: requestedFrame, Bits: append([]byte(nil), q.prediction.Bits...)}
	}

	bits := q.lastStoredBits()
	q.prediction = rollback.FrameInput{Frame: requestedFrame, Bits: append([]byte(nil), bits...)}
	q.hasPrediction = true

	return rollback.FrameInput{Frame: requestedFrame, Bits: append([]byte(nil), bits...)}
}

// ConfirmedInput returns the authoritative input stored at frame. It
// is a programmer error to call this for a frame that has not been
// confirmed by the caller.
func (q *Queue) ConfirmedInput(frame rollback.FrameNumber) rollback.FrameInput {
	idx, ok := q.find(frame)
	if !ok {
		panic(fmt.Sprintf("inputqueue: player %d has no confirmed input for frame %d", q.player, frame))
	}
	return q.inputAt(idx).Clone()
}

// DiscardConfirmedFrames drops all stored inputs strictly before
// frame. It never discards past lastRequestedFrame.
func (q *Queue) DiscardConfirmedFrames(frame rollback.FrameNumber) {
	limit := frame
	if q.lastRequestedFrame != rollback.NullFrame && limit > q.lastRequestedFrame {
		limit = q.lastRequestedFrame
	}

	for q.length > 0 {
		front := q.inputAt(q.head)
		if front.Frame >= limit {
			break
		}
		q.head = (q.head + 1) % capacity
		q.length--
	}
}

// ResetPrediction clears prediction state from frame forward: the
// current prediction and firstIncorrectFrame are cleared, and
// lastRequestedFrame is rolled back to frame-1. Stored authoritative
// inputs are untouched.
func (q *Queue) ResetPrediction(frame rollback.FrameNumber) {
	q.hasPrediction = false
	q.prediction = rollback.FrameInput{}
	q.firstIncorrectFrame = rollback.NullFrame
	q.lastRequestedFrame = frame - 1
}

func (q *Queue) find(frame rollback.FrameNumber) (int, bool) {
	for i := 0; i < q.length; i++ {
		idx := (q.head + i) % capacity
		if q.inputs[idx].Frame == frame {
			return idx, true
		}
	}
	return 0, false
}
