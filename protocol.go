package rtmp

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/config"
	"go.uber.org/zap"
)

// Protocol multiplexes RTMP messages over a single connection. It owns the chunk stream state of both
// directions and the acknowledgement windows.
//
// A Protocol is not safe for concurrent use: one goroutine drives it for the lifetime of the connection.
// The exception is a player connection with auto response off, where one goroutine may keep receiving
// while another sends: the responses queued by the receiver go out with the sender's next write.
type Protocol struct {
	conn   io.ReadWriter
	reader *Reader
	writer *Writer

	logger  *zap.SugaredLogger
	metrics Metrics

	in  *assembler
	out *fragmenter

	inAck  ackWindow
	outAck ackWindow

	// mu guards requests and responses, the state shared by the receive and send paths.
	mu sync.Mutex
	// requests maps the transaction id of the commands we sent to their name, so that _result can be
	// decoded into the right packet.
	requests map[float64]string

	autoResponse bool
	responses    []Packet

	recvTimeout time.Duration
	sendTimeout time.Duration
	mergeRead   bool

	// What the peer told us.
	peerBandwidth      uint32
	peerLimitType      BandwidthLimitType
	peerAcknowledged   uint32
	peerBufferLength   uint32
	peerBufferStreamID uint32
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// NewProtocol returns a Protocol reading from and writing to conn. A nil logger disables logging and a nil
// metrics discards the events.
func NewProtocol(conn io.ReadWriter, logger *zap.Logger, metrics Metrics) (*Protocol, error) {
	if conn == nil {
		return nil, ErrNilReader
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	reader, err := NewReader(conn)
	if err != nil {
		return nil, err
	}
	writer, err := NewWriter(conn)
	if err != nil {
		return nil, err
	}

	sugar := logger.Sugar()
	return &Protocol{
		conn:         conn,
		reader:       reader,
		writer:       writer,
		logger:       sugar,
		metrics:      metrics,
		in:           newAssembler(reader, sugar),
		out:          newFragmenter(writer),
		requests:     make(map[float64]string),
		autoResponse: true,
	}, nil
}

// Handshake runs h over the connection. It must be called before any message is received or sent.
func (p *Protocol) Handshake(h Handshaker) error {
	if err := p.setReadDeadline(); err != nil {
		return err
	}
	if err := p.setWriteDeadline(); err != nil {
		return err
	}
	return errors.Wrap(h.Handshake(p.reader, p.writer), "handshake")
}

// ReceiveMessage reads chunks until a message is complete and returns it. Protocol control messages are
// applied (chunk size, window, ping) before they are returned. Acknowledgements are sent, or queued when
// auto response is off, as the byte count crosses the window.
func (p *Protocol) ReceiveMessage() (*Message, error) {
	for {
		if err := p.setReadDeadline(); err != nil {
			return nil, err
		}

		msg, err := p.in.readChunk()
		if err != nil {
			return nil, errors.Wrap(err, "receive message")
		}

		if err := p.acknowledge(); err != nil {
			return nil, err
		}

		if msg == nil {
			continue
		}

		p.metrics.MessageReceived(msg.Type, len(msg.Payload))
		if err := p.onReceive(msg); err != nil {
			return nil, errors.Wrap(err, "receive message")
		}
		return msg, nil
	}
}

// acknowledge sends an Acknowledgement if the bytes read since the last one reached the window.
func (p *Protocol) acknowledge() error {
	sequence, due := p.inAck.due(p.reader.ReadBytes())
	if !due {
		return nil
	}
	p.logger.Debugw("acknowledging", "sequence", sequence, "window", p.inAck.size())
	return p.respond(&AcknowledgementPacket{SequenceNumber: sequence})
}

// onReceive applies the side effects of protocol control messages.
func (p *Protocol) onReceive(msg *Message) error {
	if !msg.Type.isProtocolControl() {
		return nil
	}

	packet, err := p.DecodeMessage(msg)
	if err != nil {
		return err
	}

	switch packet := packet.(type) {
	case *SetChunkSizePacket:
		if packet.ChunkSize < config.MinChunkSize {
			p.logger.Warnw("peer chunk size is below the minimum", "chunkSize", packet.ChunkSize,
				"minimum", config.MinChunkSize)
		}
		p.logger.Debugw("inbound chunk size changed", "from", p.in.chunkSize, "to", packet.ChunkSize)
		p.in.chunkSize = packet.ChunkSize

	case *SetWindowAckSizePacket:
		if packet.AcknowledgementWindowSize > 0 {
			p.logger.Debugw("inbound acknowledgement window changed", "window", packet.AcknowledgementWindowSize)
			p.inAck.set(packet.AcknowledgementWindowSize, p.reader.ReadBytes())
		}

	case *AcknowledgementPacket:
		p.peerAcknowledged = packet.SequenceNumber

	case *SetPeerBandwidthPacket:
		p.peerBandwidth = packet.Bandwidth
		p.peerLimitType = packet.LimitType

	case *AbortPacket:
		p.in.abort(packet.ChunkStream)

	case *UserControlPacket:
		switch packet.Event {
		case SetBufferLength:
			p.peerBufferStreamID = packet.Data
			p.peerBufferLength = packet.Extra
		case PingRequest:
			p.logger.Debugw("answering ping", "timestamp", packet.Data)
			return p.respond(&UserControlPacket{Event: PingResponse, Data: packet.Data})
		}
	}
	return nil
}

// respond sends a control response right away, or queues it for ManualResponseFlush when auto response is off.
func (p *Protocol) respond(packet Packet) error {
	if !p.autoResponse {
		p.mu.Lock()
		p.responses = append(p.responses, packet)
		p.mu.Unlock()
		return nil
	}
	return p.sendPacket(packet, 0)
}

// ManualResponseFlush sends the queued control responses.
func (p *Protocol) ManualResponseFlush() error {
	p.mu.Lock()
	responses := p.responses
	p.responses = nil
	p.mu.Unlock()

	if len(responses) == 0 {
		return nil
	}

	messages := make([]*Message, 0, len(responses))
	for _, packet := range responses {
		msg, err := packetMessage(packet, 0)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}

	if err := p.writeMessages(messages); err != nil {
		return errors.Wrap(err, "flush responses")
	}
	for _, packet := range responses {
		p.onSend(packet)
	}
	return nil
}

// SendMessage sends msg on message stream streamID.
func (p *Protocol) SendMessage(msg *Message, streamID uint32) error {
	return p.SendMessages([]*Message{msg}, streamID)
}

// SendMessages sends messages on message stream streamID in a single write. The messages must not be
// modified until SendMessages returns. If it fails, an unknown number of the messages was sent and the
// connection must be closed.
func (p *Protocol) SendMessages(messages []*Message, streamID uint32) error {
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		msg.StreamID = streamID
	}

	if err := p.writeMessages(messages); err != nil {
		return err
	}
	return p.ManualResponseFlush()
}

// SendPacket encodes packet and sends it on message stream streamID.
func (p *Protocol) SendPacket(packet Packet, streamID uint32) error {
	if err := p.sendPacket(packet, streamID); err != nil {
		return err
	}
	return p.ManualResponseFlush()
}

func (p *Protocol) sendPacket(packet Packet, streamID uint32) error {
	msg, err := packetMessage(packet, streamID)
	if err != nil {
		return err
	}
	if err := p.writeMessages([]*Message{msg}); err != nil {
		return errors.Wrapf(err, "send packet %T", packet)
	}
	p.onSend(packet)
	return nil
}

func (p *Protocol) writeMessages(messages []*Message) error {
	if err := p.setWriteDeadline(); err != nil {
		return err
	}
	if err := p.out.writeMessages(messages); err != nil {
		return errors.Wrap(err, "send messages")
	}
	for _, msg := range messages {
		p.metrics.MessageSent(msg.Type, len(msg.Payload))
	}
	return nil
}

func packetMessage(packet Packet, streamID uint32) (*Message, error) {
	payload, err := packet.MarshalPacket()
	if err != nil {
		return nil, errors.Wrapf(err, "encode packet %T", packet)
	}
	return &Message{
		ChunkStreamID: packet.ChunkStreamID(),
		Type:          packet.MessageType(),
		StreamID:      streamID,
		Payload:       payload,
	}, nil
}

// onSend applies the side effects of a packet once it's written.
func (p *Protocol) onSend(packet Packet) {
	switch packet := packet.(type) {
	case *SetChunkSizePacket:
		p.logger.Debugw("outbound chunk size changed", "from", p.out.chunkSize, "to", packet.ChunkSize)
		p.out.chunkSize = packet.ChunkSize
	case *SetWindowAckSizePacket:
		p.outAck.set(packet.AcknowledgementWindowSize, p.writer.WrittenBytes())
	case *AcknowledgementPacket:
		p.metrics.AcknowledgementSent(packet.SequenceNumber)
	case *ConnectPacket:
		p.request(packet.TransactionID, CommandConnect)
	case *CreateStreamPacket:
		p.request(packet.TransactionID, CommandCreateStream)
	case *FMLEStartPacket:
		p.request(packet.TransactionID, packet.CommandName)
	}
}

func (p *Protocol) request(transactionID float64, name string) {
	p.mu.Lock()
	p.requests[transactionID] = name
	p.mu.Unlock()
}

func (p *Protocol) requestName(transactionID float64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[transactionID]
}

// SetChunkSize announces size to the peer and uses it for every chunk sent afterwards.
func (p *Protocol) SetChunkSize(size uint32) error {
	if err := validChunkSize(size); err != nil {
		return err
	}
	return p.SendPacket(&SetChunkSizePacket{ChunkSize: size}, 0)
}

// SetInWindowAckSize sets the window after which the peer expects an Acknowledgement, without waiting for
// the peer to send it.
func (p *Protocol) SetInWindowAckSize(size uint32) {
	p.inAck.set(size, p.reader.ReadBytes())
}

// SetMaxMessageSize bounds the size of a single received message.
func (p *Protocol) SetMaxMessageSize(size uint32) {
	p.in.maxMessageSize = size
}

// SetRecvTimeout bounds every read from the connection. 0 disables the timeout.
func (p *Protocol) SetRecvTimeout(timeout time.Duration) {
	p.recvTimeout = timeout
	if d, ok := p.conn.(readDeadliner); ok && timeout <= 0 {
		_ = d.SetReadDeadline(time.Time{})
	}
}

// SetSendTimeout bounds every write to the connection. 0 disables the timeout.
func (p *Protocol) SetSendTimeout(timeout time.Duration) {
	p.sendTimeout = timeout
	if d, ok := p.conn.(writeDeadliner); ok && timeout <= 0 {
		_ = d.SetWriteDeadline(time.Time{})
	}
}

func (p *Protocol) RecvTimeout() time.Duration { return p.recvTimeout }
func (p *Protocol) SendTimeout() time.Duration { return p.sendTimeout }

func (p *Protocol) setReadDeadline() error {
	if p.recvTimeout <= 0 {
		return nil
	}
	if d, ok := p.conn.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(p.recvTimeout)); err != nil {
			return ioError(err, "set read deadline")
		}
	}
	return nil
}

func (p *Protocol) setWriteDeadline() error {
	if p.sendTimeout <= 0 {
		return nil
	}
	if d, ok := p.conn.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(p.sendTimeout)); err != nil {
			return ioError(err, "set write deadline")
		}
	}
	return nil
}

// SetMergeRead switches to a read buffer of size bytes, or the default size for the mode when size is 0.
// A large buffer fills with many small chunks in one read call, at the cost of memory per connection.
func (p *Protocol) SetMergeRead(enabled bool, size int) {
	if size <= 0 {
		size = config.ReadBufferSize
		if enabled {
			size = config.BuffioSize
		}
	}
	p.mergeRead = enabled
	p.reader.Resize(size)
}

func (p *Protocol) MergeRead() bool { return p.mergeRead }

// SetAutoResponse chooses whether control responses (acknowledgements, ping responses) are sent as soon as
// they're due, or queued until the next send or ManualResponseFlush.
func (p *Protocol) SetAutoResponse(enabled bool) {
	p.autoResponse = enabled
}

// BytesReceived returns the number of bytes read from the connection.
func (p *Protocol) BytesReceived() uint64 { return p.reader.ReadBytes() }

// BytesSent returns the number of bytes written to the connection.
func (p *Protocol) BytesSent() uint64 { return p.writer.WrittenBytes() }

func (p *Protocol) InChunkSize() uint32  { return p.in.chunkSize }
func (p *Protocol) OutChunkSize() uint32 { return p.out.chunkSize }

// InWindowAckSize returns the window after which we acknowledge, the default one until set.
func (p *Protocol) InWindowAckSize() uint32 { return p.inAck.size() }

// OutWindowAckSize returns the window we asked the peer to acknowledge, 0 if never sent.
func (p *Protocol) OutWindowAckSize() uint32 { return p.outAck.window }

// PeerAcknowledged returns the sequence number of the last Acknowledgement received.
func (p *Protocol) PeerAcknowledged() uint32 { return p.peerAcknowledged }

// PeerBandwidth returns the last Set Peer Bandwidth received.
func (p *Protocol) PeerBandwidth() (uint32, BandwidthLimitType) {
	return p.peerBandwidth, p.peerLimitType
}

// PeerBufferLength returns the buffer length in milliseconds a player announced with Set Buffer Length, and
// the stream it applies to.
func (p *Protocol) PeerBufferLength() (streamID uint32, length uint32) {
	return p.peerBufferStreamID, p.peerBufferLength
}
