package rtmp

type ChunkType uint8

const (
	ChunkType0 ChunkType = iota
	ChunkType1
	ChunkType2
	ChunkType3
)

// Size in bytes of the message header that follows the basic header, indexed by chunk type.
var messageHeaderLength = [4]int{11, 7, 3, 0}

const (
	extendedTimestampLength = 4
	// maxBasicHeaderLength + 11 + extended timestamp
	maxChunkHeaderLength = 3 + 11 + extendedTimestampLength
)

// Chunk stream ids 0 and 1 select the 2 and 3 byte basic header forms, so the first usable id is 2.
const (
	MinChunkStreamID uint32 = 2
	MaxChunkStreamID uint32 = 65599
)

const (
	// Only Protocol Channel is defined by the protocol (csid = 2). The others are a convention so the same kind of
	// data always flows through the same chunk stream id, which lets most headers be compressed.
	ProtocolChannel   uint32 = 2
	CommandChannel    uint32 = 3
	CommandChannel2   uint32 = 4
	StreamChannel     uint32 = 5
	VideoChannel      uint32 = 6
	AudioChannel      uint32 = 7
	StreamDataChannel uint32 = 8
)

// chunkStream is the receive side state of one chunk stream id: the last header seen on it and the
// message being assembled.
type chunkStream struct {
	id uint32
	// fmt of the last chunk read on this stream.
	fmt ChunkType

	messageType   MessageType
	streamID      uint32
	payloadLength uint32
	// timestamp is the absolute timestamp of the current (or last) message.
	timestamp uint32
	// timestampDelta is applied when a type 3 chunk starts a new message. After a type 0 chunk it holds
	// the absolute timestamp, which is what a following type 3 chunk advances by.
	timestampDelta uint32

	// extended is set when the last type 0, 1 or 2 header escaped its timestamp field. Type 3 chunks on this stream
	// then carry the 4 byte value as well.
	extended      bool
	extendedValue uint32

	message      *Message
	writeOffset  uint32
	messagesSeen uint64
}

func newChunkStream(id uint32) *chunkStream {
	return &chunkStream{id: id}
}

// outChunkStream is the send side state of one chunk stream id. It mirrors what the peer's chunkStream
// holds after reading our last header, which is what makes a compressed header safe to send.
type outChunkStream struct {
	initialized bool

	messageType    MessageType
	streamID       uint32
	payloadLength  uint32
	timestamp      uint32
	timestampDelta uint32

	extended      bool
	extendedValue uint32
}
