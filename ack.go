package rtmp

import "github.com/torresjeff/rtmp-protocol/config"

// ackWindow tracks a Window Acknowledgement Size and when the next Acknowledgement is due. Until a window
// is set the default one is honoured, so peers that never send a Window Acknowledgement Size still get acks.
type ackWindow struct {
	window uint32
	// nextAckAt is the byte count at which the next acknowledgement is due, 0 until first computed.
	nextAckAt uint64
	sequence  uint32
}

func (w *ackWindow) size() uint32 {
	if w.window == 0 {
		return config.DefaultWindowAckSize
	}
	return w.window
}

func (w *ackWindow) active() bool {
	return w.window != 0
}

// set changes the window. The next acknowledgement is due at the next multiple of the new window above count.
func (w *ackWindow) set(window uint32, count uint64) {
	w.window = window
	size := uint64(w.size())
	w.nextAckAt = (count/size + 1) * size
}

// due reports whether count has reached the next acknowledgement threshold. When it has, it returns the
// sequence number to acknowledge and moves the threshold to the following multiple of the window, so a
// single crossing is acknowledged once.
func (w *ackWindow) due(count uint64) (uint32, bool) {
	size := uint64(w.size())
	if w.nextAckAt == 0 {
		w.nextAckAt = size
	}
	if count < w.nextAckAt {
		return 0, false
	}

	w.nextAckAt = (count/size + 1) * size
	w.sequence = uint32(count)
	return w.sequence, true
}
