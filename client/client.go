package client

import (
	"io"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmp-protocol"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
	"github.com/torresjeff/rtmp-protocol/audio"
	"github.com/torresjeff/rtmp-protocol/config"
	"github.com/torresjeff/rtmp-protocol/video"
	"go.uber.org/zap"
)

var ErrInvalidScheme = errors.New("invalid scheme in URL")
var ErrInvalidURL = errors.New("invalid URL")
var ErrConnectRejected = errors.New("connect rejected")
var ErrPlayFailed = errors.New("play failed")

const flashVersion = "LNX 9,0,124,2"

// bufferLength is the buffer, in milliseconds, the client tells the server it keeps.
const bufferLength uint32 = 3000

type AudioCallback func(header audio.Header, payload []byte, timestamp uint32)
type VideoCallback func(header video.Header, payload []byte, timestamp uint32)
type MetadataCallback func(metadata amf0.Object)

// Target is what an rtmp:// URL points to.
type Target struct {
	// Address is host:port.
	Address   string
	App       string
	StreamKey string
	TcURL     string
}

// ParseURL splits rtmp://host[:port]/app/streamKey. Everything between the host and the last path element
// is the app.
func ParseURL(rawURL string) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, errors.Wrap(ErrInvalidURL, err.Error())
	}
	if u.Scheme != "" && u.Scheme != "rtmp" {
		return Target{}, errors.Wrapf(ErrInvalidScheme, "scheme %q", u.Scheme)
	}
	u.Scheme = "rtmp"
	if u.Host == "" {
		return Target{}, errors.Wrap(ErrInvalidURL, "missing host")
	}
	if u.Port() == "" {
		u.Host += ":" + config.DefaultPort
	}

	path := strings.Split(strings.Trim(u.Path, "/"), "/")
	// At the very least we need an app and a stream key
	if len(path) < 2 || path[0] == "" || path[len(path)-1] == "" {
		return Target{}, errors.Wrapf(ErrInvalidURL, "path %q needs an app and a stream key", u.Path)
	}

	app := strings.Join(path[:len(path)-1], "/")
	return Target{
		Address:   u.Host,
		App:       app,
		StreamKey: path[len(path)-1],
		TcURL:     "rtmp://" + u.Host + "/" + app,
	}, nil
}

// Client plays a stream from an RTMP server and hands what it receives to the callbacks.
type Client struct {
	OnAudio    AudioCallback
	OnVideo    VideoCallback
	OnMetadata MetadataCallback

	Logger  *zap.Logger
	Metrics rtmp.Metrics
	// Timeout bounds dialing and every read and write. 0 means no timeout.
	Timeout time.Duration
}

// Connect dials the server in rawURL and plays the stream until it ends or fails.
func (c *Client) Connect(rawURL string) error {
	target, err := ParseURL(rawURL)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", target.Address, c.Timeout)
	if err != nil {
		return errors.Wrapf(err, "dial %s", target.Address)
	}
	defer conn.Close()

	return c.Play(conn, target)
}

// Play runs the handshake, connect, createStream and play over conn, then delivers media until the server
// signals the end of the stream (in which case it returns nil) or something fails.
func (c *Client) Play(conn io.ReadWriter, target Target) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("app", target.App), zap.String("streamKey", target.StreamKey))
	sugar := logger.Sugar()

	protocol, err := rtmp.NewProtocol(conn, logger, c.Metrics)
	if err != nil {
		return err
	}
	protocol.SetRecvTimeout(c.Timeout)
	protocol.SetSendTimeout(c.Timeout)

	if err := protocol.Handshake(rtmp.ClientHandshaker{}); err != nil {
		return err
	}
	if err := protocol.SetChunkSize(config.OutChunkSize); err != nil {
		return err
	}

	if err := c.connect(protocol, target); err != nil {
		return err
	}
	sugar.Debug("connected")

	if err := protocol.SendPacket(rtmp.NewCreateStreamPacket(), 0); err != nil {
		return err
	}
	_, created, err := rtmp.ExpectPacket[*rtmp.CreateStreamResultPacket](protocol)
	if err != nil {
		return err
	}
	streamID := uint32(created.StreamID)

	if err := protocol.SendPacket(rtmp.NewPlayPacket(target.StreamKey), streamID); err != nil {
		return err
	}
	err = protocol.SendPacket(&rtmp.UserControlPacket{Event: rtmp.SetBufferLength, Data: streamID, Extra: bufferLength}, 0)
	if err != nil {
		return err
	}
	sugar.Infow("playing", "streamID", streamID)

	return c.receive(protocol, streamID, sugar)
}

func (c *Client) connect(protocol *rtmp.Protocol, target Target) error {
	err := protocol.SendPacket(rtmp.NewConnectPacket(amf0.Object{
		{Key: "app", Value: target.App},
		{Key: "flashVer", Value: flashVersion},
		{Key: "tcUrl", Value: target.TcURL},
		{Key: "fpad", Value: false},
		{Key: "capabilities", Value: float64(15)},
		{Key: "audioCodecs", Value: float64(4071)},
		{Key: "videoCodecs", Value: float64(252)},
		{Key: "videoFunction", Value: float64(1)},
	}), 0)
	if err != nil {
		return err
	}

	for {
		msg, err := protocol.ReceiveMessage()
		if err != nil {
			return errors.Wrap(err, "connect")
		}
		packet, err := protocol.DecodeMessage(msg)
		if err != nil {
			return errors.Wrap(err, "connect")
		}

		switch packet := packet.(type) {
		case *rtmp.ConnectResultPacket:
			if code, _ := packet.Info.GetString("code"); code != rtmp.NetConnectionConnectSuccess {
				return errors.Wrapf(ErrConnectRejected, "code %q", code)
			}
			return nil
		case *rtmp.CallResultPacket:
			if packet.IsError() && packet.TransactionID == rtmp.TransactionConnect {
				return errors.Wrapf(ErrConnectRejected, "code %q", errorCode(packet))
			}
		}
	}
}

func errorCode(packet *rtmp.CallResultPacket) string {
	for _, value := range packet.Response {
		if info, ok := value.(amf0.Object); ok {
			code, _ := info.GetString("code")
			return code
		}
	}
	return ""
}

func (c *Client) receive(protocol *rtmp.Protocol, streamID uint32, logger *zap.SugaredLogger) error {
	for {
		msg, err := protocol.ReceiveMessage()
		if err != nil {
			return err
		}

		switch msg.Type {
		case rtmp.AudioMessage:
			c.onAudio(msg, logger)
			continue
		case rtmp.VideoMessage:
			c.onVideo(msg, logger)
			continue
		}

		packet, err := protocol.DecodeMessage(msg)
		if err != nil {
			logger.Warnw("ignoring message that could not be decoded", "type", msg.Type, "error", err)
			continue
		}

		switch packet := packet.(type) {
		case *rtmp.UserControlPacket:
			if packet.Event == rtmp.StreamEOF && packet.Data == streamID {
				logger.Info("end of stream")
				return protocol.SendPacket(&rtmp.CloseStreamPacket{}, streamID)
			}
		case *rtmp.OnStatusCallPacket:
			level, _ := packet.Data.GetString("level")
			logger.Debugw("status", "level", level, "code", packet.Code())
			if level == rtmp.ErrorLevel {
				return errors.Wrapf(ErrPlayFailed, "code %q", packet.Code())
			}
		case *rtmp.OnMetaDataPacket:
			if c.OnMetadata != nil {
				c.OnMetadata(packet.Metadata)
			}
		}
	}
}

func (c *Client) onAudio(msg *rtmp.Message, logger *zap.SugaredLogger) {
	if c.OnAudio == nil {
		return
	}
	header, err := audio.ParseHeader(msg.Payload)
	if err != nil {
		logger.Debugw("skipping audio message", "error", err)
		return
	}
	c.OnAudio(header, msg.Payload, msg.Timestamp)
}

func (c *Client) onVideo(msg *rtmp.Message, logger *zap.SugaredLogger) {
	if c.OnVideo == nil {
		return
	}
	header, err := video.ParseHeader(msg.Payload)
	if err != nil {
		logger.Debugw("skipping video message", "error", err)
		return
	}
	c.OnVideo(header, msg.Payload, msg.Timestamp)
}
