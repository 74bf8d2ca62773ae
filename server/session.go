package server

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmp-protocol"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
	"github.com/torresjeff/rtmp-protocol/audio"
	"github.com/torresjeff/rtmp-protocol/config"
	"github.com/torresjeff/rtmp-protocol/rand"
	"github.com/torresjeff/rtmp-protocol/video"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// playQueueSize bounds the messages waiting to be written to a player. Once full, new messages are dropped.
const playQueueSize = 1024

// maxWriteBatch is the number of media messages gathered into one write.
const maxWriteBatch = 64

// responseFlushInterval is how often a player is sent the acknowledgements and ping responses it is owed
// while nothing else is being written.
const responseFlushInterval = time.Second

var ErrAppNotFound = errors.New("app not found")
var ErrBadStreamName = errors.New("bad stream name")

// outbound is something the publisher's goroutine wants written to a player.
type outbound struct {
	message  *rtmp.Message
	packet   rtmp.Packet
	streamID uint32
}

// Session is a single client connection, either a publisher or a player.
type Session struct {
	logger      *zap.SugaredLogger
	sessionID   string
	conn        net.Conn
	protocol    *rtmp.Protocol
	broadcaster *Broadcaster
	config      *config.Config

	// app data
	app      string
	flashVer string
	swfURL   string
	tcURL    string
	pageURL  string

	// stream data
	streamID       uint32
	streamKey      string
	publishingType string
	isPublisher    bool
	isPlayer       bool

	// player state, shared with the publisher's goroutine
	queue     chan outbound
	done      chan struct{}
	closeOnce sync.Once
	paused    atomic.Bool
	dropped   atomic.Uint64
}

func NewSession(conn net.Conn, broadcaster *Broadcaster, cfg *config.Config, logger *zap.Logger, metrics rtmp.Metrics) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := rand.GenerateUuid()
	logger = logger.With(zap.String("sessionID", sessionID), zap.Stringer("remote", conn.RemoteAddr()))

	protocol, err := rtmp.NewProtocol(conn, logger, metrics)
	if err != nil {
		return nil, err
	}
	protocol.SetRecvTimeout(cfg.ReadTimeout)
	protocol.SetSendTimeout(cfg.WriteTimeout)
	protocol.SetMaxMessageSize(cfg.MaxMessage)

	return &Session{
		logger:      logger.Sugar(),
		sessionID:   sessionID,
		conn:        conn,
		protocol:    protocol,
		broadcaster: broadcaster,
		config:      cfg,
		streamID:    config.DefaultStreamID,
		queue:       make(chan outbound, playQueueSize),
		done:        make(chan struct{}),
	}, nil
}

// Run performs the handshake and then serves the connection until the peer leaves or fails. The
// connection is closed when Run returns.
func (s *Session) Run() error {
	defer s.conn.Close()
	defer s.cleanup()

	if err := s.protocol.Handshake(rtmp.ServerHandshaker{}); err != nil {
		return err
	}
	s.logger.Debug("handshake completed")

	for {
		msg, err := s.protocol.ReceiveMessage()
		if err != nil {
			return err
		}
		if err := s.handleMessage(msg); err != nil {
			return err
		}
		if s.isPlayer {
			return s.play()
		}
	}
}

// Close stops the session. Run returns shortly after.
func (s *Session) Close() error {
	s.stop()
	return s.conn.Close()
}

func (s *Session) stop() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Session) cleanup() {
	s.stop()
	if s.isPlayer {
		if err := s.broadcaster.DestroySubscriber(s.streamKey, s.sessionID); err != nil {
			s.logger.Debugw("destroying subscriber", "streamKey", s.streamKey, "error", err)
		}
		s.isPlayer = false
	}
	if s.isPublisher {
		s.unpublish()
	}
}

func (s *Session) unpublish() {
	s.broadcaster.BroadcastEndOfStream(s.streamKey)
	if err := s.broadcaster.DestroyPublisher(s.streamKey); err != nil {
		s.logger.Warnw("destroying publisher", "streamKey", s.streamKey, "error", err)
	}
	s.isPublisher = false
	s.logger.Infow("stopped publishing", "streamKey", s.streamKey)
}

func (s *Session) handleMessage(msg *rtmp.Message) error {
	switch msg.Type {
	case rtmp.AudioMessage:
		s.onAudio(msg)
		return nil
	case rtmp.VideoMessage:
		s.onVideo(msg)
		return nil
	}

	packet, err := s.protocol.DecodeMessage(msg)
	if err != nil {
		s.logger.Warnw("ignoring message that could not be decoded", "type", msg.Type, "error", err)
		return nil
	}

	switch packet := packet.(type) {
	case *rtmp.ConnectPacket:
		return s.onConnect(packet)
	case *rtmp.FMLEStartPacket:
		return s.onFMLEStart(packet)
	case *rtmp.CreateStreamPacket:
		return s.onCreateStream(packet)
	case *rtmp.PublishPacket:
		return s.onPublish(packet)
	case *rtmp.PlayPacket:
		return s.onPlay(packet)
	case *rtmp.CloseStreamPacket:
		if s.isPublisher {
			s.unpublish()
		}
	case *rtmp.OnMetaDataPacket:
		s.onMetadata(packet)
	case *rtmp.CallPacket:
		return s.onCall(packet)
	}
	return nil
}

func (s *Session) send(streamID uint32, packets ...rtmp.Packet) error {
	for _, packet := range packets {
		if err := s.protocol.SendPacket(packet, streamID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) onConnect(packet *rtmp.ConnectPacket) error {
	s.storeConnectInfo(packet.CommandObject)

	if s.app != s.config.App {
		s.logger.Warnw("rejecting connect to unknown app", "app", s.app)
		err := s.send(0, &rtmp.CallResultPacket{
			CommandName:   rtmp.CommandError,
			TransactionID: packet.TransactionID,
			Response: []interface{}{amf0.Object{
				{Key: "level", Value: rtmp.ErrorLevel},
				{Key: "code", Value: rtmp.NetConnectionConnectRejected},
				{Key: "description", Value: "app " + s.app + " not found"},
			}},
		})
		if err != nil {
			return err
		}
		return errors.Wrapf(ErrAppNotFound, "app %q", s.app)
	}

	err := s.send(0,
		&rtmp.SetWindowAckSizePacket{AcknowledgementWindowSize: s.config.WindowAck},
		&rtmp.SetPeerBandwidthPacket{Bandwidth: s.config.WindowAck, LimitType: rtmp.LimitDynamic},
		&rtmp.UserControlPacket{Event: rtmp.StreamBegin, Data: config.DefaultPublishStream},
	)
	if err != nil {
		return err
	}
	if err := s.protocol.SetChunkSize(s.config.ChunkSize); err != nil {
		return err
	}

	err = s.send(0,
		&rtmp.ConnectResultPacket{
			TransactionID: packet.TransactionID,
			Properties: amf0.Object{
				{Key: "fmsVer", Value: config.FlashMediaServerVersion},
				{Key: "capabilities", Value: float64(config.Capabilities)},
				{Key: "mode", Value: float64(config.Mode)},
			},
			Info: amf0.Object{
				{Key: "level", Value: rtmp.StatusLevel},
				{Key: "code", Value: rtmp.NetConnectionConnectSuccess},
				{Key: "description", Value: "Connection succeeded."},
				{Key: "objectEncoding", Value: float64(0)},
			},
		},
		&rtmp.OnBWDonePacket{},
	)
	if err != nil {
		return err
	}

	s.logger.Infow("connected", "app", s.app, "tcUrl", s.tcURL, "flashVer", s.flashVer)
	return nil
}

func (s *Session) storeConnectInfo(commandObject amf0.Object) {
	s.app, _ = commandObject.GetString("app")
	// Some clients append the query string of the url to the app name.
	s.app, _, _ = strings.Cut(s.app, "?")
	s.flashVer = firstString(commandObject, "flashVer", "flashver")
	s.swfURL = firstString(commandObject, "swfUrl", "swfurl")
	s.tcURL = firstString(commandObject, "tcUrl", "tcurl")
	s.pageURL = firstString(commandObject, "pageUrl", "pageurl")
}

func firstString(object amf0.Object, keys ...string) string {
	for _, key := range keys {
		if value, ok := object.GetString(key); ok {
			return value
		}
	}
	return ""
}

func (s *Session) onFMLEStart(packet *rtmp.FMLEStartPacket) error {
	result := &rtmp.FMLEStartResultPacket{TransactionID: packet.TransactionID}

	switch packet.CommandName {
	case rtmp.CommandFCPublish:
		return s.send(0, result, &rtmp.CallPacket{
			CommandName: rtmp.CommandOnFCPublish,
			Arguments:   []interface{}{statusObject(rtmp.StatusLevel, rtmp.NetStreamPublishStart, packet.StreamName)},
		})
	case rtmp.CommandFCUnpublish:
		if s.isPublisher {
			s.unpublish()
		}
		return s.send(0, result, &rtmp.CallPacket{
			CommandName: rtmp.CommandOnFCUnpublish,
			Arguments:   []interface{}{statusObject(rtmp.StatusLevel, rtmp.NetStreamUnpublishSuccess, packet.StreamName)},
		})
	}
	return s.send(0, result)
}

func statusObject(level, code, description string) amf0.Object {
	return amf0.Object{
		{Key: "level", Value: level},
		{Key: "code", Value: code},
		{Key: "description", Value: description},
	}
}

func (s *Session) onCreateStream(packet *rtmp.CreateStreamPacket) error {
	s.streamID = config.DefaultStreamID
	return s.send(0,
		&rtmp.CreateStreamResultPacket{TransactionID: packet.TransactionID, StreamID: float64(s.streamID)},
		&rtmp.UserControlPacket{Event: rtmp.StreamBegin, Data: s.streamID},
	)
}

func (s *Session) onPublish(packet *rtmp.PublishPacket) error {
	var err error
	if packet.StreamName == "" {
		err = ErrBadStreamName
	} else {
		err = s.broadcaster.RegisterPublisher(packet.StreamName)
	}
	if err != nil {
		s.logger.Warnw("rejecting publish", "streamKey", packet.StreamName, "error", err)
		status := rtmp.NewOnStatusCallPacket(rtmp.ErrorLevel, rtmp.NetStreamPublishBadName, err.Error())
		if sendErr := s.send(s.streamID, status); sendErr != nil {
			return sendErr
		}
		return err
	}

	s.streamKey = packet.StreamName
	s.publishingType = packet.Type
	s.isPublisher = true
	if s.config.MergeRead {
		s.protocol.SetMergeRead(true, 0)
	}
	s.logger.Infow("publishing", "streamKey", s.streamKey, "type", s.publishingType)

	return s.send(s.streamID, rtmp.NewOnStatusCallPacket(rtmp.StatusLevel, rtmp.NetStreamPublishStart, "Start publishing"))
}

func (s *Session) onMetadata(packet *rtmp.OnMetaDataPacket) {
	if !s.isPublisher || packet.Metadata == nil {
		return
	}
	s.broadcaster.SetMetadataForPublisher(s.streamKey, packet.Metadata)
	s.broadcaster.BroadcastMetadata(s.streamKey, packet.Metadata)
}

func (s *Session) onAudio(msg *rtmp.Message) {
	if !s.isPublisher {
		return
	}
	if audio.IsSequenceHeader(msg.Payload) {
		s.logger.Debug("received aac sequence header")
		s.broadcaster.SetAacSequenceHeaderForPublisher(s.streamKey, msg.Payload)
	}
	s.broadcaster.BroadcastAudio(s.streamKey, msg.Payload, msg.Timestamp)
}

func (s *Session) onVideo(msg *rtmp.Message) {
	if !s.isPublisher {
		return
	}
	if video.IsSequenceHeader(msg.Payload) {
		s.logger.Debug("received avc sequence header")
		s.broadcaster.SetAvcSequenceHeaderForPublisher(s.streamKey, msg.Payload)
	}
	s.broadcaster.BroadcastVideo(s.streamKey, msg.Payload, msg.Timestamp)
}

// onCall answers the commands the server doesn't implement, so that clients waiting on a result don't hang.
func (s *Session) onCall(packet *rtmp.CallPacket) error {
	s.logger.Debugw("unhandled command", "command", packet.CommandName)
	if packet.TransactionID == 0 {
		return nil
	}
	return s.send(0, &rtmp.CallResultPacket{CommandName: rtmp.CommandResult, TransactionID: packet.TransactionID})
}

func (s *Session) onPlay(packet *rtmp.PlayPacket) error {
	s.streamKey = packet.StreamName
	// Registering first means no frame published from now on is missed. Those wait in the queue until the
	// cached headers below have been written.
	if err := s.broadcaster.RegisterSubscriber(s.streamKey, s); err != nil {
		s.logger.Infow("play of a stream that isn't being published", "streamKey", s.streamKey)
		status := rtmp.NewOnStatusCallPacket(rtmp.ErrorLevel, rtmp.NetStreamPlayStreamNotFound, "Stream not found")
		status.Data = status.Data.Set("details", s.streamKey)
		return s.send(s.streamID, status)
	}
	s.isPlayer = true

	if err := s.send(0, &rtmp.UserControlPacket{Event: rtmp.StreamBegin, Data: s.streamID}); err != nil {
		return err
	}
	if packet.Reset {
		if err := s.send(s.streamID, rtmp.NewOnStatusCallPacket(rtmp.StatusLevel, rtmp.NetStreamPlayReset, "Playing and resetting stream.")); err != nil {
			return err
		}
	}
	err := s.send(s.streamID,
		rtmp.NewOnStatusCallPacket(rtmp.StatusLevel, rtmp.NetStreamPlayStart, "Started playing stream."),
		&rtmp.SampleAccessPacket{VideoSampleAccess: true, AudioSampleAccess: true},
		&rtmp.OnStatusDataPacket{Data: amf0.Object{{Key: "code", Value: rtmp.NetStreamDataStart}}},
	)
	if err != nil {
		return err
	}

	if metadata := s.broadcaster.GetMetadataForPublisher(s.streamKey); metadata != nil {
		if err := s.send(s.streamID, &rtmp.OnMetaDataPacket{Metadata: metadata}); err != nil {
			return err
		}
	}

	var headers []*rtmp.Message
	if header := s.broadcaster.GetAvcSequenceHeaderForPublisher(s.streamKey); header != nil {
		headers = append(headers, videoMessage(header, 0))
	}
	if header := s.broadcaster.GetAacSequenceHeaderForPublisher(s.streamKey); header != nil {
		headers = append(headers, audioMessage(header, 0))
	}
	if err := s.protocol.SendMessages(headers, s.streamID); err != nil {
		return err
	}

	s.logger.Infow("playing", "streamKey", s.streamKey)
	return nil
}

func audioMessage(payload []byte, timestamp uint32) *rtmp.Message {
	return &rtmp.Message{ChunkStreamID: rtmp.AudioChannel, Type: rtmp.AudioMessage, Timestamp: timestamp, Payload: payload}
}

func videoMessage(payload []byte, timestamp uint32) *rtmp.Message {
	return &rtmp.Message{ChunkStreamID: rtmp.VideoChannel, Type: rtmp.VideoMessage, Timestamp: timestamp, Payload: payload}
}

// play serves a player. The writer goroutine sends what the publisher relays while this one keeps reading,
// so that acknowledgements, pings and closeStream are still handled.
func (s *Session) play() error {
	// Responses are flushed by the writer, the only goroutine that writes from now on.
	s.protocol.SetAutoResponse(false)
	// Players may stay silent for as long as they play.
	s.protocol.SetRecvTimeout(0)

	writerErr := make(chan error, 1)
	go func() {
		writerErr <- s.writeLoop()
	}()

	err := s.readLoop()
	s.stop()
	if werr := <-writerErr; werr != nil {
		return werr
	}
	return err
}

func (s *Session) readLoop() error {
	for {
		msg, err := s.protocol.ReceiveMessage()
		if err != nil {
			return err
		}
		if msg.Type != rtmp.CommandMessageAMF0 && msg.Type != rtmp.CommandMessageAMF3 {
			continue
		}

		packet, err := s.protocol.DecodeMessage(msg)
		if err != nil {
			s.logger.Warnw("ignoring command that could not be decoded", "error", err)
			continue
		}

		switch packet := packet.(type) {
		case *rtmp.CloseStreamPacket:
			s.logger.Infow("player closed the stream", "streamKey", s.streamKey)
			return nil
		case *rtmp.CallPacket:
			if packet.CommandName == rtmp.CommandDeleteStream {
				s.logger.Infow("player deleted the stream", "streamKey", s.streamKey)
				return nil
			}
		case *rtmp.PausePacket:
			s.onPause(packet)
		}
	}
}

func (s *Session) onPause(packet *rtmp.PausePacket) {
	s.paused.Store(packet.IsPause)
	code, description := rtmp.NetStreamUnpauseNotify, "Unpaused stream."
	if packet.IsPause {
		code, description = rtmp.NetStreamPauseNotify, "Paused stream."
	}
	s.logger.Debugw("pause", "paused", packet.IsPause, "time", packet.TimeMs)
	s.enqueue(outbound{packet: rtmp.NewOnStatusCallPacket(rtmp.StatusLevel, code, description), streamID: s.streamID})
}

func (s *Session) writeLoop() error {
	ticker := time.NewTicker(responseFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return nil
		case <-ticker.C:
			if err := s.protocol.ManualResponseFlush(); err != nil {
				s.conn.Close()
				return err
			}
		case item := <-s.queue:
			if err := s.write(item); err != nil {
				// Unblocks the reader.
				s.conn.Close()
				return err
			}
		}
	}
}

// write sends item and whatever else is already queued. Media messages are gathered into batches so that
// they go out in as few writes as possible.
func (s *Session) write(item outbound) error {
	batch := make([]*rtmp.Message, 0, maxWriteBatch)
	for more := true; more; {
		if item.packet != nil {
			if err := s.protocol.SendMessages(batch, s.streamID); err != nil {
				return err
			}
			batch = batch[:0]
			if err := s.protocol.SendPacket(item.packet, item.streamID); err != nil {
				return err
			}
		} else {
			batch = append(batch, item.message)
		}

		if len(batch) == maxWriteBatch {
			break
		}
		select {
		case item = <-s.queue:
		default:
			more = false
		}
	}
	return s.protocol.SendMessages(batch, s.streamID)
}

func (s *Session) enqueue(item outbound) {
	if item.message != nil && s.paused.Load() {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- item:
	default:
		if dropped := s.dropped.Inc(); dropped%100 == 1 {
			s.logger.Warnw("player is too slow, dropping messages", "streamKey", s.streamKey, "dropped", dropped)
		}
	}
}

func (s *Session) SendAudio(payload []byte, timestamp uint32) {
	s.enqueue(outbound{message: audioMessage(payload, timestamp)})
}

func (s *Session) SendVideo(payload []byte, timestamp uint32) {
	s.enqueue(outbound{message: videoMessage(payload, timestamp)})
}

func (s *Session) SendMetadata(metadata amf0.Object) {
	s.enqueue(outbound{packet: &rtmp.OnMetaDataPacket{Metadata: metadata}, streamID: s.streamID})
}

// SendEndOfStream tells the player the publisher is gone. The connection stays open.
func (s *Session) SendEndOfStream() {
	status := rtmp.NewOnStatusCallPacket(rtmp.StatusLevel, rtmp.NetStreamPlayStop, "Stopped playing stream.")
	status.Data = status.Data.Set("details", s.streamKey)
	s.enqueue(outbound{packet: status, streamID: s.streamID})
	s.enqueue(outbound{packet: &rtmp.UserControlPacket{Event: rtmp.StreamEOF, Data: s.streamID}})
}

func (s *Session) GetID() string {
	return s.sessionID
}
