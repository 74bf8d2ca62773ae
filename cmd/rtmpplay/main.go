package main

import (
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
	"github.com/torresjeff/rtmp-protocol/audio"
	"github.com/torresjeff/rtmp-protocol/client"
	"github.com/torresjeff/rtmp-protocol/video"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var cli struct {
	URL     string        `arg:"" help:"stream to play, like rtmp://localhost/app/key."`
	Timeout time.Duration `help:"dial, read and write timeout." default:"30s"`
	Debug   bool          `help:"log at debug level."`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Name("rtmpplay"),
		kong.Description("Plays an RTMP stream and logs what it receives."),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}
	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	logger, _ := zap.NewDevelopment()
	if !cli.Debug {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	var audioFrames, videoFrames atomic.Uint64
	c := &client.Client{
		OnAudio: func(header audio.Header, payload []byte, timestamp uint32) {
			audioFrames.Inc()
			logger.Debug("client: on audio", zap.Uint8("format", uint8(header.Format)), zap.Int("size", len(payload)),
				zap.Uint32("timestamp", timestamp))
		},
		OnVideo: func(header video.Header, payload []byte, timestamp uint32) {
			if videoFrames.Inc() == 1 || header.FrameType == video.KeyFrame {
				logger.Info("client: on video", zap.Uint8("codec", uint8(header.Codec)),
					zap.Uint8("frameType", uint8(header.FrameType)), zap.Uint32("timestamp", timestamp))
			}
		},
		OnMetadata: func(metadata amf0.Object) {
			fields := make([]zap.Field, 0, len(metadata))
			for _, entry := range metadata {
				fields = append(fields, zap.Any(entry.Key, entry.Value))
			}
			logger.Info("client: on metadata", fields...)
		},
		Logger:  logger,
		Timeout: cli.Timeout,
	}

	err = c.Connect(cli.URL)
	logger.Info("client: done", zap.Uint64("audioFrames", audioFrames.Load()), zap.Uint64("videoFrames", videoFrames.Load()))
	if err != nil {
		logger.Fatal("client: play failed", zap.Error(err))
	}
}
