package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmp-protocol"
	"github.com/torresjeff/rtmp-protocol/config"
	"github.com/torresjeff/rtmp-protocol/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cli struct {
	Config string `help:"path to a YAML config file. Defaults are used when empty." type:"path"`
	Listen string `help:"address to listen on, overrides the config file."`
	Debug  bool   `help:"log at debug level with a development logger."`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Name("rtmpserver"),
		kong.Description("An RTMP server that relays published streams to players."),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}
	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cfg := config.Default()
	if cli.Config != "" {
		cfg, err = config.Load(cli.Config)
		parser.FatalIfErrorf(err)
	}
	if cli.Listen != "" {
		cfg.Listen = cli.Listen
	}
	if cli.Debug {
		cfg.LogLevel = "debug"
		config.Debug = true
	}
	parser.FatalIfErrorf(cfg.Validate())

	logger, err := newLogger(cfg)
	parser.FatalIfErrorf(err)
	defer logger.Sync()

	counters := &rtmp.Counters{}
	srv := &server.Server{
		Config:  cfg,
		Logger:  logger,
		Metrics: counters,
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Info("shutting down", zap.Stringer("signal", sig))
		srv.Close()
	}()

	if err := srv.Listen(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("stopped",
		zap.Uint64("messagesReceived", counters.MessagesReceived.Load()),
		zap.Uint64("messagesSent", counters.MessagesSent.Load()),
		zap.Uint64("acknowledgements", counters.Acknowledgements.Load()))
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	zapConfig := zap.NewProductionConfig()
	if config.Debug {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}
