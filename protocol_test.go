package rtmp

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"
	"testing/iotest"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// duplex joins a reader and a writer into a connection.
type duplex struct {
	io.Reader
	io.Writer
}

func newTestProtocol(t *testing.T, r io.Reader, w io.Writer) *Protocol {
	if r == nil {
		r = &bytes.Buffer{}
	}
	if w == nil {
		w = io.Discard
	}
	p, err := NewProtocol(duplex{r, w}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return p
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func rawChunk(t *testing.T, h chunkHeader, data []byte) []byte {
	b, err := appendChunkHeader(nil, &h)
	require.NoError(t, err)
	return append(b, data...)
}

func testMessages() []*Message {
	return []*Message{
		{ChunkStreamID: VideoChannel, Timestamp: 0, Type: VideoMessage, StreamID: 1, Payload: payload(300, 1)},
		{ChunkStreamID: VideoChannel, Timestamp: 40, Type: VideoMessage, StreamID: 1, Payload: payload(300, 2)},
		{ChunkStreamID: VideoChannel, Timestamp: 80, Type: VideoMessage, StreamID: 1, Payload: payload(300, 3)},
		{ChunkStreamID: AudioChannel, Timestamp: 23, Type: AudioMessage, StreamID: 1, Payload: payload(17, 4)},
		{ChunkStreamID: VideoChannel, Timestamp: 120, Type: VideoMessage, StreamID: 1, Payload: payload(1, 5)},
		{ChunkStreamID: VideoChannel, Timestamp: 100, Type: VideoMessage, StreamID: 1, Payload: payload(1, 6)},
		{ChunkStreamID: StreamDataChannel, Timestamp: 0x01000005, Type: DataMessageAMF0, StreamID: 2, Payload: payload(500, 7)},
		{ChunkStreamID: StreamDataChannel, Timestamp: 0x02000010, Type: DataMessageAMF0, StreamID: 2, Payload: payload(500, 8)},
		{ChunkStreamID: StreamDataChannel, Timestamp: 0x02000020, Type: DataMessageAMF0, StreamID: 2, Payload: payload(500, 9)},
		{ChunkStreamID: 400, Timestamp: 7, Type: AggregateMessage, StreamID: 3, Payload: payload(129, 10)},
		{ChunkStreamID: 65599, Timestamp: 0xffffff, Type: CommandMessageAMF3, StreamID: 0, Payload: payload(256, 11)},
		{ChunkStreamID: 65599, Timestamp: 0xffffff, Type: CommandMessageAMF3, StreamID: 0, Payload: payload(256, 12)},
	}
}

func sendAll(t *testing.T, p *Protocol, messages []*Message) {
	for _, msg := range messages {
		require.NoError(t, p.SendMessage(msg, msg.StreamID))
	}
}

func TestRoundTrip(t *testing.T) {
	for _, chunkSize := range []uint32{1, 60, 128, 4096} {
		t.Run(fmt.Sprintf("chunk size %d", chunkSize), func(t *testing.T) {
			var buf bytes.Buffer
			sender := newTestProtocol(t, nil, &buf)
			sender.out.chunkSize = chunkSize
			sendAll(t, sender, testMessages())

			receiver := newTestProtocol(t, &buf, nil)
			receiver.in.chunkSize = chunkSize
			for _, expected := range testMessages() {
				msg, err := receiver.ReceiveMessage()
				require.NoError(t, err)
				require.Equal(t, expected, msg)
			}

			_, err := receiver.ReceiveMessage()
			require.True(t, IsIoError(err))
			require.True(t, errors.Is(err, io.EOF))
		})
	}
}

func TestRoundTripPayloadSizes(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	var expected []*Message
	for n := 1; n <= 600; n += 37 {
		msg := &Message{ChunkStreamID: AudioChannel, Timestamp: uint32(n), Type: AudioMessage, Payload: payload(n, byte(n))}
		require.NoError(t, sender.SendMessage(msg, 1))
		expected = append(expected, msg)
	}

	receiver := newTestProtocol(t, &buf, nil)
	for _, e := range expected {
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, e, msg)
	}
}

func TestRoundTripOneByteReads(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	sendAll(t, sender, testMessages())

	receiver := newTestProtocol(t, iotest.OneByteReader(&buf), nil)
	for _, expected := range testMessages() {
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, expected, msg)
	}
}

func TestEmptyMessageIsDropped(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	require.NoError(t, sender.SendMessages([]*Message{
		{ChunkStreamID: AudioChannel, Timestamp: 10, Type: AudioMessage},
		{ChunkStreamID: AudioChannel, Timestamp: 20, Type: AudioMessage, Payload: []byte{0xaf, 0x01}},
	}, 1))

	receiver := newTestProtocol(t, &buf, nil)
	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, &Message{ChunkStreamID: AudioChannel, Timestamp: 20, Type: AudioMessage, StreamID: 1, Payload: []byte{0xaf, 0x01}}, msg)
}

func TestUnknownMessageTypeIsDropped(t *testing.T) {
	var raw []byte
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 9, length: 3, messageType: 30}, []byte{1, 2, 3})...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 9, length: 1, messageType: VideoMessage}, []byte{4})...)

	receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, VideoMessage, msg.Type)
	require.Equal(t, []byte{4}, msg.Payload)
}

func TestHeaderCompression(t *testing.T) {
	headerCompressionTests := []struct {
		name     string
		messages []Message
		fmts     []ChunkType
	}{
		{
			"delta changes after first message",
			[]Message{{Timestamp: 100}, {Timestamp: 140}, {Timestamp: 180}},
			[]ChunkType{ChunkType0, ChunkType2, ChunkType3},
		},
		{
			"delta equals first timestamp",
			[]Message{{Timestamp: 40}, {Timestamp: 80}, {Timestamp: 120}},
			[]ChunkType{ChunkType0, ChunkType3, ChunkType3},
		},
		{
			"length changes",
			[]Message{{Timestamp: 0}, {Timestamp: 0, Payload: payload(20, 0)}},
			[]ChunkType{ChunkType0, ChunkType1},
		},
		{
			"type changes",
			[]Message{{Timestamp: 0}, {Timestamp: 10, Type: AudioMessage}},
			[]ChunkType{ChunkType0, ChunkType1},
		},
		{
			"stream id changes",
			[]Message{{Timestamp: 0}, {Timestamp: 0, StreamID: 2}},
			[]ChunkType{ChunkType0, ChunkType0},
		},
		{
			"timestamp goes backwards",
			[]Message{{Timestamp: 100}, {Timestamp: 50}},
			[]ChunkType{ChunkType0, ChunkType0},
		},
		{
			"extended timestamp is never compressed to type 3",
			[]Message{{Timestamp: 0x1000000}, {Timestamp: 0x2000000}},
			[]ChunkType{ChunkType0, ChunkType2},
		},
	}

	for _, tt := range headerCompressionTests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sender := newTestProtocol(t, nil, &buf)

			var expected []*Message
			for i, m := range tt.messages {
				msg := &Message{ChunkStreamID: VideoChannel, Timestamp: m.Timestamp, Type: VideoMessage, StreamID: 1, Payload: payload(10, 0)}
				if m.Type != 0 {
					msg.Type = m.Type
				}
				if m.Payload != nil {
					msg.Payload = m.Payload
				}
				if m.StreamID != 0 {
					msg.StreamID = m.StreamID
				}

				before := buf.Len()
				require.NoError(t, sender.SendMessage(msg, msg.StreamID))
				require.Equal(t, tt.fmts[i], ChunkType(buf.Bytes()[before]>>6), "message %d", i)
				expected = append(expected, msg)
			}

			receiver := newTestProtocol(t, &buf, nil)
			for _, e := range expected {
				msg, err := receiver.ReceiveMessage()
				require.NoError(t, err)
				require.Equal(t, e, msg)
			}
		})
	}
}

func TestContinuationChunks(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: VideoChannel, Type: VideoMessage, Payload: payload(300, 0)}, 1))

	out := buf.Bytes()
	require.Len(t, out, 12+128+1+128+1+44)
	require.Equal(t, byte(0xc6), out[12+128])
	require.Equal(t, byte(0xc6), out[12+128+1+128])
}

func TestExtendedTimestamp(t *testing.T) {
	t.Run("type 0 repeats it on continuation chunks", func(t *testing.T) {
		var buf bytes.Buffer
		sender := newTestProtocol(t, nil, &buf)
		require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: VideoChannel, Timestamp: 0xffffff, Type: VideoMessage, Payload: payload(200, 0)}, 1))

		out := buf.Bytes()
		require.Len(t, out, 12+4+128+1+4+72)
		require.Equal(t, []byte{0xff, 0xff, 0xff}, out[1:4])
		require.Equal(t, []byte{0x00, 0xff, 0xff, 0xff}, out[12:16])
		require.Equal(t, []byte{0xc6, 0x00, 0xff, 0xff, 0xff}, out[16+128:16+128+5])

		receiver := newTestProtocol(t, &buf, nil)
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, uint32(0xffffff), msg.Timestamp)
		require.Equal(t, payload(200, 0), msg.Payload)
	})

	t.Run("continuation chunks without it", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xab}, 200)
		var raw []byte
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, timestamp: 0x01000000, length: 200,
			messageType: VideoMessage, streamID: 1, extended: true}, data[:128])...)
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: 6}, data[128:])...)

		receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, uint32(0x01000000), msg.Timestamp)
		require.Equal(t, data, msg.Payload)
	})

	t.Run("quiet peer after a continuation chunk", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xcd}, 130)
		var raw []byte
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, timestamp: 0x01000000, length: 130,
			messageType: VideoMessage, streamID: 1, extended: true}, data[:128])...)
		// fewer bytes than an extended timestamp follow the type 3 header
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: 6}, data[128:])...)

		local, remote := net.Pipe()
		t.Cleanup(func() {
			local.Close()
			remote.Close()
		})
		go remote.Write(raw)

		receiver, err := NewProtocol(local, zaptest.NewLogger(t), nil)
		require.NoError(t, err)
		receiver.SetRecvTimeout(50 * time.Millisecond)
		_, err = receiver.ReceiveMessage()
		require.True(t, IsIoError(err), "got %v", err)
	})

	t.Run("delta", func(t *testing.T) {
		var raw []byte
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, timestamp: 10, length: 1,
			messageType: VideoMessage, streamID: 1}, []byte{1})...)
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType1, chunkStreamID: 6, timestamp: 0x01000000, length: 2,
			messageType: VideoMessage, extended: true}, []byte{2, 2})...)
		// a type 3 header starting a message after an extended one carries the extended delta again
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: 6, timestamp: 0x01000000,
			extended: true}, []byte{3, 3})...)
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType2, chunkStreamID: 6, timestamp: 0xffffff,
			extended: true}, []byte{4, 4})...)

		receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
		for _, ts := range []uint32{10, 10 + 0x01000000, 10 + 2*0x01000000, 10 + 2*0x01000000 + 0xffffff} {
			msg, err := receiver.ReceiveMessage()
			require.NoError(t, err)
			require.Equal(t, ts, msg.Timestamp)
		}
	})

	t.Run("wraps around", func(t *testing.T) {
		var raw []byte
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, timestamp: 0xfffffff0, length: 1,
			messageType: VideoMessage, extended: true}, []byte{1})...)
		raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType2, chunkStreamID: 6, timestamp: 0x20}, []byte{2})...)

		receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, uint32(0xfffffff0), msg.Timestamp)
		msg, err = receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, uint32(0x10), msg.Timestamp)
	})
}

func TestInterleaving(t *testing.T) {
	video := payload(256, 0x10)
	audio := payload(256, 0x80)

	var raw []byte
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: VideoChannel, timestamp: 40, length: 256,
		messageType: VideoMessage, streamID: 1}, video[:128])...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: AudioChannel, timestamp: 23, length: 256,
		messageType: AudioMessage, streamID: 1}, audio[:128])...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: VideoChannel}, video[128:])...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: AudioChannel}, audio[128:])...)

	receiver := newTestProtocol(t, bytes.NewReader(raw), nil)

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, &Message{ChunkStreamID: VideoChannel, Timestamp: 40, Type: VideoMessage, StreamID: 1, Payload: video}, msg)

	msg, err = receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, &Message{ChunkStreamID: AudioChannel, Timestamp: 23, Type: AudioMessage, StreamID: 1, Payload: audio}, msg)
}

func TestReceiveErrors(t *testing.T) {
	receiveErrorTests := []struct {
		name string
		raw  func(t *testing.T) []byte
		err  error
	}{
		{
			"fresh chunk stream with type 2",
			func(t *testing.T) []byte {
				return rawChunk(t, chunkHeader{fmt: ChunkType2, chunkStreamID: 6, timestamp: 40}, []byte{1})
			},
			ErrBadHeader,
		},
		{
			"fresh chunk stream with type 3",
			func(t *testing.T) []byte {
				return rawChunk(t, chunkHeader{fmt: ChunkType3, chunkStreamID: 6}, []byte{1})
			},
			ErrBadHeader,
		},
		{
			"type 0 in the middle of a message",
			func(t *testing.T) []byte {
				h := chunkHeader{fmt: ChunkType0, chunkStreamID: 6, length: 200, messageType: VideoMessage}
				return append(rawChunk(t, h, payload(128, 0)), rawChunk(t, h, payload(72, 0))...)
			},
			ErrBadHeader,
		},
		{
			"length changes in the middle of a message",
			func(t *testing.T) []byte {
				first := rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, length: 200, messageType: VideoMessage}, payload(128, 0))
				return append(first, rawChunk(t, chunkHeader{fmt: ChunkType1, chunkStreamID: 6, length: 300, messageType: VideoMessage}, payload(128, 0))...)
			},
			ErrBadHeader,
		},
		{
			"message too large",
			func(t *testing.T) []byte {
				return rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, length: 0xffffff, messageType: VideoMessage}, nil)
			},
			ErrMessageTooLarge,
		},
		{
			"invalid chunk size",
			func(t *testing.T) []byte {
				return rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 2, length: 4, messageType: SetChunkSize},
					[]byte{0x80, 0x00, 0x00, 0x80})
			},
			ErrUnknownControlSubtype,
		},
	}

	for _, tt := range receiveErrorTests {
		t.Run(tt.name, func(t *testing.T) {
			receiver := newTestProtocol(t, bytes.NewReader(tt.raw(t)), nil)
			_, err := receiver.ReceiveMessage()
			require.True(t, errors.Is(err, tt.err), "got %v", err)
			require.False(t, IsIoError(err))
		})
	}
}

func TestFreshProtocolChannelWithType1(t *testing.T) {
	raw := rawChunk(t, chunkHeader{fmt: ChunkType1, chunkStreamID: ProtocolChannel, timestamp: 5, length: 6,
		messageType: UserControlMessage}, []byte{0x00, 0x06, 0x00, 0x00, 0x00, 0x2a})

	var out bytes.Buffer
	receiver := newTestProtocol(t, bytes.NewReader(raw), &out)
	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, uint32(5), msg.Timestamp)
}

func TestTruncatedHeader(t *testing.T) {
	receiver := newTestProtocol(t, bytes.NewReader([]byte{0x06, 0x00, 0x00}), nil)
	_, err := receiver.ReceiveMessage()
	require.True(t, IsIoError(err))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestSetChunkSizeMidStream(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	require.NoError(t, sender.SetChunkSize(4096))
	require.Equal(t, uint32(4096), sender.OutChunkSize())

	video := payload(10000, 0)
	require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: VideoChannel, Type: VideoMessage, Payload: video}, 1))

	// 16 bytes of Set Chunk Size, then 3 chunks of 4096, 4096 and 1808 bytes.
	require.Equal(t, 16+12+4096+1+4096+1+1808, buf.Len())

	receiver := newTestProtocol(t, &buf, nil)
	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, SetChunkSize, msg.Type)
	require.Equal(t, uint32(4096), receiver.InChunkSize())
	require.Equal(t, uint32(128), receiver.OutChunkSize())

	msg, err = receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, video, msg.Payload)
}

func TestSetChunkSizeInvalid(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	for _, size := range []uint32{0, 65537, 0x80000000} {
		require.True(t, errors.Is(sender.SetChunkSize(size), ErrUnknownControlSubtype))
	}
	require.Zero(t, buf.Len())
}

type failingWriter struct {
	calls  int
	failAt int
	buf    bytes.Buffer
}

var errBrokenPipe = errors.New("broken pipe")

func (w *failingWriter) Write(b []byte) (int, error) {
	w.calls++
	if w.calls == w.failAt {
		return 0, errBrokenPipe
	}
	return w.buf.Write(b)
}

func TestSendMessagesFailure(t *testing.T) {
	w := &failingWriter{failAt: 3}
	sender := newTestProtocol(t, nil, w)

	var messages []*Message
	for i := 0; i < 5; i++ {
		messages = append(messages, &Message{ChunkStreamID: AudioChannel, Timestamp: uint32(i * 23), Type: AudioMessage, Payload: payload(10, byte(i))})
	}

	err := sender.SendMessages(messages, 1)
	require.Error(t, err)
	require.True(t, IsIoError(err))
	require.True(t, errors.Is(err, errBrokenPipe))
	require.Equal(t, 3, w.calls)
	require.Equal(t, uint64(12+10), sender.BytesSent())
}

func TestSendMessagesSetsStreamID(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	msg := &Message{ChunkStreamID: AudioChannel, Type: AudioMessage, StreamID: 9, Payload: []byte{1}}
	require.NoError(t, sender.SendMessage(msg, 1))
	require.Equal(t, uint32(1), msg.StreamID)
}

func TestChannelOverflow(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)

	err := sender.SendMessages([]*Message{
		{ChunkStreamID: AudioChannel, Type: AudioMessage, Payload: []byte{1}},
		{ChunkStreamID: 65600, Type: AudioMessage, Payload: []byte{1}},
	}, 1)
	require.True(t, errors.Is(err, ErrChannelOverflow))
	require.False(t, IsIoError(err))
	require.Zero(t, buf.Len())

	// the connection is still usable
	require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: AudioChannel, Type: AudioMessage, Payload: []byte{1}}, 1))
	require.Equal(t, ChunkType0, ChunkType(buf.Bytes()[0]>>6))
}

func TestManyMessagesInOneBatch(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)

	// More segments than a single write and more headers than the arena holds.
	var messages []*Message
	for i := 0; i < 2000; i++ {
		messages = append(messages, &Message{ChunkStreamID: uint32(2 + i%300), Timestamp: uint32(i), Type: VideoMessage, Payload: payload(3, byte(i))})
	}
	require.NoError(t, sender.SendMessages(messages, 1))

	receiver := newTestProtocol(t, &buf, nil)
	for _, expected := range messages {
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, expected, msg)
	}
}

func TestAcknowledgementWindow(t *testing.T) {
	var in bytes.Buffer
	sender := newTestProtocol(t, nil, &in)
	for i := 0; i < 4; i++ {
		require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: CommandChannel, Type: VideoMessage, Payload: payload(100, 0)}, 0))
	}
	// 12+100, then 1+100 for each following message
	require.Equal(t, 112+3*101, in.Len())

	var out bytes.Buffer
	receiver := newTestProtocol(t, &in, &out)
	receiver.SetInWindowAckSize(112)

	var acks []uint32
	for i := 0; i < 4; i++ {
		_, err := receiver.ReceiveMessage()
		require.NoError(t, err)

		peer := newTestProtocol(t, bytes.NewReader(out.Bytes()), nil)
		acks = acks[:0]
		for {
			msg, err := peer.ReceiveMessage()
			if err != nil {
				break
			}
			packet, err := peer.DecodeMessage(msg)
			require.NoError(t, err)
			acks = append(acks, packet.(*AcknowledgementPacket).SequenceNumber)
		}

		switch i {
		case 0:
			require.Equal(t, []uint32{112}, acks)
		case 1:
			require.Equal(t, []uint32{112}, acks)
		case 2:
			require.Equal(t, []uint32{112, 314}, acks)
		case 3:
			require.Equal(t, []uint32{112, 314, 415}, acks)
		}
	}
}

func TestAcknowledgementQueued(t *testing.T) {
	var in bytes.Buffer
	sender := newTestProtocol(t, nil, &in)
	require.NoError(t, sender.SendPacket(&SetWindowAckSizePacket{AcknowledgementWindowSize: 50}, 0))
	require.Equal(t, uint32(50), sender.OutWindowAckSize())
	require.NoError(t, sender.SendMessage(&Message{ChunkStreamID: VideoChannel, Type: VideoMessage, Payload: payload(100, 0)}, 1))

	var out bytes.Buffer
	receiver := newTestProtocol(t, &in, &out)
	receiver.SetAutoResponse(false)

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, WindowAcknowledgementSize, msg.Type)
	require.Equal(t, uint32(50), receiver.InWindowAckSize())

	_, err = receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Zero(t, out.Len())

	require.NoError(t, receiver.ManualResponseFlush())
	require.Equal(t, []byte{0x02, 0, 0, 0, 0, 0, 4, byte(Acknowledgement), 0, 0, 0, 0, 0, 0, 0, 128}, out.Bytes())
}

func TestDefaultAcknowledgementWindow(t *testing.T) {
	receiver := newTestProtocol(t, nil, nil)
	require.Equal(t, uint32(2500000), receiver.InWindowAckSize())
	require.Equal(t, uint32(0), receiver.OutWindowAckSize())
}

func TestPing(t *testing.T) {
	ping := rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: ProtocolChannel, length: 6, messageType: UserControlMessage},
		[]byte{0x00, 0x06, 0x00, 0x00, 0x30, 0x39})
	pong := []byte{0x02, 0, 0, 0, 0, 0, 6, byte(UserControlMessage), 0, 0, 0, 0, 0x00, 0x07, 0x00, 0x00, 0x30, 0x39}

	t.Run("auto response", func(t *testing.T) {
		var out bytes.Buffer
		receiver := newTestProtocol(t, bytes.NewReader(ping), &out)
		msg, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, UserControlMessage, msg.Type)
		require.Equal(t, pong, out.Bytes())
	})

	t.Run("queued until the next send", func(t *testing.T) {
		var out bytes.Buffer
		receiver := newTestProtocol(t, bytes.NewReader(ping), &out)
		receiver.SetAutoResponse(false)
		_, err := receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Zero(t, out.Len())

		require.NoError(t, receiver.SendMessage(&Message{ChunkStreamID: AudioChannel, Type: AudioMessage, Payload: []byte{1}}, 1))
		require.Equal(t, pong, out.Bytes()[13:])
	})
}

func TestSetBufferLength(t *testing.T) {
	raw := rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: ProtocolChannel, length: 10, messageType: UserControlMessage},
		[]byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x0b, 0xb8})
	receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
	_, err := receiver.ReceiveMessage()
	require.NoError(t, err)

	streamID, length := receiver.PeerBufferLength()
	require.Equal(t, uint32(1), streamID)
	require.Equal(t, uint32(3000), length)
}

func TestAbort(t *testing.T) {
	var raw []byte
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, length: 200, messageType: VideoMessage}, payload(128, 0))...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: ProtocolChannel, length: 4, messageType: AbortMessage}, []byte{0, 0, 0, 6})...)
	raw = append(raw, rawChunk(t, chunkHeader{fmt: ChunkType0, chunkStreamID: 6, length: 2, messageType: VideoMessage}, []byte{7, 7})...)

	receiver := newTestProtocol(t, bytes.NewReader(raw), nil)
	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, AbortMessage, msg.Type)

	msg, err = receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, []byte{7, 7}, msg.Payload)
}

func TestMergeRead(t *testing.T) {
	var buf bytes.Buffer
	sender := newTestProtocol(t, nil, &buf)
	sendAll(t, sender, testMessages())

	receiver := newTestProtocol(t, &buf, nil)
	expected := testMessages()

	msg, err := receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, expected[0], msg)

	receiver.SetMergeRead(true, 0)
	require.True(t, receiver.MergeRead())
	msg, err = receiver.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, expected[1], msg)

	receiver.SetMergeRead(false, 16)
	for _, e := range expected[2:] {
		msg, err = receiver.ReceiveMessage()
		require.NoError(t, err)
		require.Equal(t, e, msg)
	}
}

func TestRecvTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	p, err := NewProtocol(local, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	p.SetRecvTimeout(50 * time.Millisecond)
	require.Equal(t, 50*time.Millisecond, p.RecvTimeout())

	_, err = p.ReceiveMessage()
	require.True(t, IsIoError(err))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	require.True(t, netErr.Timeout())
}

func TestSendTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	p, err := NewProtocol(local, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	p.SetSendTimeout(50 * time.Millisecond)

	// nobody reads from remote
	err = p.SendMessage(&Message{ChunkStreamID: AudioChannel, Type: AudioMessage, Payload: []byte{1}}, 1)
	require.True(t, IsIoError(err))
}

func TestCounters(t *testing.T) {
	var buf bytes.Buffer
	counters := &Counters{}
	sender, err := NewProtocol(duplex{&bytes.Buffer{}, &buf}, zaptest.NewLogger(t), counters)
	require.NoError(t, err)
	sendAll(t, sender, testMessages()[:3])

	require.Equal(t, uint64(3), counters.MessagesSent.Load())
	require.Equal(t, uint64(900), counters.PayloadSent.Load())
	require.Equal(t, uint64(buf.Len()), sender.BytesSent())

	receiverCounters := &Counters{}
	receiver, err := NewProtocol(duplex{&buf, io.Discard}, zaptest.NewLogger(t), receiverCounters)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := receiver.ReceiveMessage()
		require.NoError(t, err)
	}
	require.Equal(t, uint64(3), receiverCounters.MessagesReceived.Load())
	require.Equal(t, sender.BytesSent(), receiver.BytesReceived())
}

func TestNewProtocolNilConn(t *testing.T) {
	_, err := NewProtocol(nil, nil, nil)
	require.Equal(t, ErrNilReader, err)
}
