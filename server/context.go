package server

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
)

// ContextStore keeps the streams being published and who is playing them.
type ContextStore interface {
	RegisterPublisher(streamKey string) error
	DestroyPublisher(streamKey string) error
	RegisterSubscriber(streamKey string, subscriber Subscriber) error
	GetSubscribersForStream(streamKey string) ([]Subscriber, error)
	DestroySubscriber(streamKey string, sessionID string) error
	StreamExists(streamKey string) bool
	SetAvcSequenceHeaderForPublisher(streamKey string, payload []byte)
	GetAvcSequenceHeaderForPublisher(streamKey string) []byte
	SetAacSequenceHeaderForPublisher(streamKey string, payload []byte)
	GetAacSequenceHeaderForPublisher(streamKey string) []byte
	SetMetadataForPublisher(streamKey string, metadata amf0.Object)
	GetMetadataForPublisher(streamKey string) amf0.Object
}

var ErrStreamNotFound = errors.New("stream not found")
var ErrPublisherExists = errors.New("stream is already being published")

type stream struct {
	subscribers []Subscriber
	// Players joining late need the decoder configuration before the first frame they get.
	avcSequenceHeader []byte
	aacSequenceHeader []byte
	metadata          amf0.Object
}

type InMemoryContext struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

func NewInMemoryContext() *InMemoryContext {
	return &InMemoryContext{
		streams: make(map[string]*stream),
	}
}

// RegisterPublisher creates the stream. Only one publisher may use a stream key at a time.
func (c *InMemoryContext) RegisterPublisher(streamKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.streams[streamKey]; exists {
		return errors.Wrapf(ErrPublisherExists, "stream %q", streamKey)
	}
	// Assume there will be a small amount of subscribers
	c.streams[streamKey] = &stream{subscribers: make([]Subscriber, 0, 5)}
	return nil
}

func (c *InMemoryContext) DestroyPublisher(streamKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, streamKey)
	return nil
}

func (c *InMemoryContext) RegisterSubscriber(streamKey string, subscriber Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return errors.Wrapf(ErrStreamNotFound, "stream %q", streamKey)
	}
	s.subscribers = append(s.subscribers, subscriber)
	return nil
}

func (c *InMemoryContext) StreamExists(streamKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.streams[streamKey]
	return exists
}

// GetSubscribersForStream returns a copy of the subscribers, so it can be iterated without holding the lock.
func (c *InMemoryContext) GetSubscribersForStream(streamKey string) ([]Subscriber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil, errors.Wrapf(ErrStreamNotFound, "stream %q", streamKey)
	}
	subscribers := make([]Subscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	return subscribers, nil
}

func (c *InMemoryContext) DestroySubscriber(streamKey string, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil
	}
	last := len(s.subscribers) - 1
	for i, sub := range s.subscribers {
		if sub.GetID() == sessionID {
			// Swap with the last element instead of shifting the rest.
			s.subscribers[i] = s.subscribers[last]
			s.subscribers[last] = nil
			s.subscribers = s.subscribers[:last]
			return nil
		}
	}
	return nil
}

func (c *InMemoryContext) SetAvcSequenceHeaderForPublisher(streamKey string, payload []byte) {
	c.update(streamKey, func(s *stream) { s.avcSequenceHeader = payload })
}

func (c *InMemoryContext) GetAvcSequenceHeaderForPublisher(streamKey string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, exists := c.streams[streamKey]; exists {
		return s.avcSequenceHeader
	}
	return nil
}

func (c *InMemoryContext) SetAacSequenceHeaderForPublisher(streamKey string, payload []byte) {
	c.update(streamKey, func(s *stream) { s.aacSequenceHeader = payload })
}

func (c *InMemoryContext) GetAacSequenceHeaderForPublisher(streamKey string) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, exists := c.streams[streamKey]; exists {
		return s.aacSequenceHeader
	}
	return nil
}

func (c *InMemoryContext) SetMetadataForPublisher(streamKey string, metadata amf0.Object) {
	c.update(streamKey, func(s *stream) { s.metadata = metadata })
}

func (c *InMemoryContext) GetMetadataForPublisher(streamKey string) amf0.Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, exists := c.streams[streamKey]; exists {
		return s.metadata
	}
	return nil
}

func (c *InMemoryContext) update(streamKey string, f func(s *stream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, exists := c.streams[streamKey]; exists {
		f(s)
	}
}
