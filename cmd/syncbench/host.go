package main

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/maxpoletaev/rollback"
)

// counterHost is the demo game: each player has one running uint32
// accumulator that folds in the bytes of every input it receives.
// Deterministic, cheap to checksum, and sensitive enough to rollback
// bugs that a wrong replay order or a dropped input immediately shows
// up as a checksum mismatch.
type counterHost struct {
	numPlayers int
	acc        []uint32
	frame      rollback.FrameNumber
}

func newCounterHost(numPlayers int) *counterHost {
	return &counterHost{
		numPlayers: numPlayers,
		acc:        make([]uint32, numPlayers),
		frame:      0,
	}
}

func (h *counterHost) SaveGameState() rollback.GameState {
	buf := make([]byte, 4*len(h.acc))
	for i, v := range h.acc {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}

	return rollback.GameState{
		Frame:    h.frame,
		Buffer:   buf,
		Checksum: crc32.ChecksumIEEE(buf),
		HasCRC:   true,
	}
}

func (h *counterHost) LoadGameState(state rollback.GameState) {
	for i := range h.acc {
		h.acc[i] = binary.LittleEndian.Uint32(state.Buffer[i*4:])
	}
	h.frame = state.Frame
}

func (h *counterHost) AdvanceFrame(inputs []rollback.FrameInput, disconnectFlags uint32) {
	for i, in := range inputs {
		for _, b := range in.Bits {
			h.acc[i] = h.acc[i]*31 + uint32(b)
		}
	}
	h.frame++
}
