package server

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/torresjeff/rtmp-protocol/amf/amf0"
)

type fakeSubscriber struct {
	id string

	mu          sync.Mutex
	audio       [][]byte
	video       [][]byte
	timestamps  []uint32
	metadata    []amf0.Object
	endOfStream int
}

func (f *fakeSubscriber) SendAudio(audio []byte, timestamp uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
	f.timestamps = append(f.timestamps, timestamp)
}

func (f *fakeSubscriber) SendVideo(video []byte, timestamp uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, video)
	f.timestamps = append(f.timestamps, timestamp)
}

func (f *fakeSubscriber) SendMetadata(metadata amf0.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata = append(f.metadata, metadata)
}

func (f *fakeSubscriber) GetID() string {
	return f.id
}

func (f *fakeSubscriber) SendEndOfStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endOfStream++
}

func TestInMemoryContextPublishers(t *testing.T) {
	c := NewInMemoryContext()
	require.False(t, c.StreamExists("key"))

	require.NoError(t, c.RegisterPublisher("key"))
	require.True(t, c.StreamExists("key"))

	err := c.RegisterPublisher("key")
	require.True(t, errors.Is(err, ErrPublisherExists))

	require.NoError(t, c.DestroyPublisher("key"))
	require.False(t, c.StreamExists("key"))
	require.NoError(t, c.RegisterPublisher("key"))
}

func TestInMemoryContextSubscribers(t *testing.T) {
	c := NewInMemoryContext()

	err := c.RegisterSubscriber("key", &fakeSubscriber{id: "a"})
	require.True(t, errors.Is(err, ErrStreamNotFound))
	_, err = c.GetSubscribersForStream("key")
	require.True(t, errors.Is(err, ErrStreamNotFound))

	require.NoError(t, c.RegisterPublisher("key"))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.RegisterSubscriber("key", &fakeSubscriber{id: id}))
	}

	subscribers, err := c.GetSubscribersForStream("key")
	require.NoError(t, err)
	require.Len(t, subscribers, 3)

	// The returned slice is a copy.
	subscribers[0] = nil
	again, err := c.GetSubscribersForStream("key")
	require.NoError(t, err)
	require.NotNil(t, again[0])

	require.NoError(t, c.DestroySubscriber("key", "a"))
	require.NoError(t, c.DestroySubscriber("key", "unknown"))
	require.NoError(t, c.DestroySubscriber("other", "b"))

	subscribers, err = c.GetSubscribersForStream("key")
	require.NoError(t, err)
	var ids []string
	for _, sub := range subscribers {
		ids = append(ids, sub.GetID())
	}
	require.ElementsMatch(t, []string{"b", "c"}, ids)
}

func TestInMemoryContextCache(t *testing.T) {
	c := NewInMemoryContext()

	// Nothing is cached for streams that don't exist.
	c.SetAvcSequenceHeaderForPublisher("key", []byte{0x17, 0x00})
	require.Nil(t, c.GetAvcSequenceHeaderForPublisher("key"))

	require.NoError(t, c.RegisterPublisher("key"))
	c.SetAvcSequenceHeaderForPublisher("key", []byte{0x17, 0x00})
	c.SetAacSequenceHeaderForPublisher("key", []byte{0xaf, 0x00})
	c.SetMetadataForPublisher("key", amf0.Object{{Key: "width", Value: float64(1280)}})

	require.Equal(t, []byte{0x17, 0x00}, c.GetAvcSequenceHeaderForPublisher("key"))
	require.Equal(t, []byte{0xaf, 0x00}, c.GetAacSequenceHeaderForPublisher("key"))
	width, ok := c.GetMetadataForPublisher("key").GetFloat64("width")
	require.True(t, ok)
	require.Equal(t, float64(1280), width)

	// A new publisher starts without the previous one's headers.
	require.NoError(t, c.DestroyPublisher("key"))
	require.NoError(t, c.RegisterPublisher("key"))
	require.Nil(t, c.GetAvcSequenceHeaderForPublisher("key"))
	require.Nil(t, c.GetAacSequenceHeaderForPublisher("key"))
	require.Nil(t, c.GetMetadataForPublisher("key"))
}
