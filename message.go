package rtmp

type MessageType uint8

const (
	SetChunkSize MessageType = 1 + iota
	AbortMessage
	Acknowledgement
	UserControlMessage
	WindowAcknowledgementSize
	SetPeerBandwidth

	AudioMessage MessageType = 8
	VideoMessage MessageType = 9

	DataMessageAMF3         MessageType = 15
	SharedObjectMessageAMF3 MessageType = 16
	CommandMessageAMF3      MessageType = 17

	DataMessageAMF0         MessageType = 18
	SharedObjectMessageAMF0 MessageType = 19
	CommandMessageAMF0      MessageType = 20

	AggregateMessage MessageType = 22
)

// Known reports whether t is a message type this package can carry. Messages of other types are
// dropped by the receive path.
func (t MessageType) Known() bool {
	switch t {
	case SetChunkSize, AbortMessage, Acknowledgement, UserControlMessage, WindowAcknowledgementSize, SetPeerBandwidth,
		AudioMessage, VideoMessage,
		DataMessageAMF3, SharedObjectMessageAMF3, CommandMessageAMF3,
		DataMessageAMF0, SharedObjectMessageAMF0, CommandMessageAMF0,
		AggregateMessage:
		return true
	}
	return false
}

func (t MessageType) isProtocolControl() bool {
	return t >= SetChunkSize && t <= SetPeerBandwidth
}

func (t MessageType) isCommand() bool {
	return t == CommandMessageAMF0 || t == CommandMessageAMF3
}

func (t MessageType) isData() bool {
	return t == DataMessageAMF0 || t == DataMessageAMF3
}

func (t MessageType) isAMF3() bool {
	return t == CommandMessageAMF3 || t == DataMessageAMF3
}

// Message is a complete logical RTMP message. The receive path allocates a new Message (and payload)
// for every message it returns, so the caller owns it. The send path does not modify the payload.
type Message struct {
	// ChunkStreamID is the channel the message was (or will be) multiplexed on.
	ChunkStreamID uint32
	// Timestamp is absolute and wraps at 2^32. Extended timestamps are handled by the chunk codec.
	Timestamp uint32
	Type      MessageType
	// StreamID is the message stream, 0 for connection level control and commands.
	StreamID uint32
	Payload  []byte
}
