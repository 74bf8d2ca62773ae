package server

import (
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
	"go.uber.org/zap"
)

// A Subscriber gets sent the audio, video and data messages that flow in a particular stream (identified by
// its stream key). The methods are called from the publisher's goroutine and must not block.
type Subscriber interface {
	SendAudio(audio []byte, timestamp uint32)
	SendVideo(video []byte, timestamp uint32)
	SendMetadata(metadata amf0.Object)
	GetID() string
	SendEndOfStream()
}

// Broadcaster relays what a publisher sends to the subscribers of its stream.
type Broadcaster struct {
	context ContextStore
	logger  *zap.SugaredLogger
}

func NewBroadcaster(context ContextStore, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		context: context,
		logger:  logger.Sugar(),
	}
}

func (b *Broadcaster) RegisterPublisher(streamKey string) error {
	return b.context.RegisterPublisher(streamKey)
}

func (b *Broadcaster) DestroyPublisher(streamKey string) error {
	return b.context.DestroyPublisher(streamKey)
}

func (b *Broadcaster) RegisterSubscriber(streamKey string, subscriber Subscriber) error {
	return b.context.RegisterSubscriber(streamKey, subscriber)
}

func (b *Broadcaster) DestroySubscriber(streamKey string, sessionID string) error {
	return b.context.DestroySubscriber(streamKey, sessionID)
}

func (b *Broadcaster) StreamExists(streamKey string) bool {
	return b.context.StreamExists(streamKey)
}

func (b *Broadcaster) subscribers(streamKey string) []Subscriber {
	subscribers, err := b.context.GetSubscribersForStream(streamKey)
	if err != nil {
		b.logger.Warnw("broadcasting to a stream without subscribers list", "streamKey", streamKey, "error", err)
		return nil
	}
	return subscribers
}

func (b *Broadcaster) BroadcastAudio(streamKey string, audio []byte, timestamp uint32) {
	for _, sub := range b.subscribers(streamKey) {
		sub.SendAudio(audio, timestamp)
	}
}

func (b *Broadcaster) BroadcastVideo(streamKey string, video []byte, timestamp uint32) {
	for _, sub := range b.subscribers(streamKey) {
		sub.SendVideo(video, timestamp)
	}
}

func (b *Broadcaster) BroadcastMetadata(streamKey string, metadata amf0.Object) {
	for _, sub := range b.subscribers(streamKey) {
		sub.SendMetadata(metadata)
	}
}

func (b *Broadcaster) BroadcastEndOfStream(streamKey string) {
	for _, sub := range b.subscribers(streamKey) {
		sub.SendEndOfStream()
	}
}

func (b *Broadcaster) SetAvcSequenceHeaderForPublisher(streamKey string, payload []byte) {
	b.context.SetAvcSequenceHeaderForPublisher(streamKey, payload)
}

func (b *Broadcaster) GetAvcSequenceHeaderForPublisher(streamKey string) []byte {
	return b.context.GetAvcSequenceHeaderForPublisher(streamKey)
}

func (b *Broadcaster) SetAacSequenceHeaderForPublisher(streamKey string, payload []byte) {
	b.context.SetAacSequenceHeaderForPublisher(streamKey, payload)
}

func (b *Broadcaster) GetAacSequenceHeaderForPublisher(streamKey string) []byte {
	return b.context.GetAacSequenceHeaderForPublisher(streamKey)
}

func (b *Broadcaster) SetMetadataForPublisher(streamKey string, metadata amf0.Object) {
	b.context.SetMetadataForPublisher(streamKey, metadata)
}

func (b *Broadcaster) GetMetadataForPublisher(streamKey string) amf0.Object {
	return b.context.GetMetadataForPublisher(streamKey)
}
