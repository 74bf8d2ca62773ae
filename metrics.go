package rtmp

import "go.uber.org/atomic"

// Metrics receives the events of one or more Protocols. Implementations shared between connections must be
// safe for concurrent use.
type Metrics interface {
	MessageReceived(t MessageType, size int)
	MessageSent(t MessageType, size int)
	AcknowledgementSent(sequence uint32)
}

type nopMetrics struct{}

func (nopMetrics) MessageReceived(MessageType, int) {}
func (nopMetrics) MessageSent(MessageType, int)     {}
func (nopMetrics) AcknowledgementSent(uint32)       {}

// Counters is a Metrics that keeps running totals.
type Counters struct {
	MessagesReceived atomic.Uint64
	PayloadReceived  atomic.Uint64
	MessagesSent     atomic.Uint64
	PayloadSent      atomic.Uint64
	Acknowledgements atomic.Uint64
}

func (c *Counters) MessageReceived(_ MessageType, size int) {
	c.MessagesReceived.Inc()
	c.PayloadReceived.Add(uint64(size))
}

func (c *Counters) MessageSent(_ MessageType, size int) {
	c.MessagesSent.Inc()
	c.PayloadSent.Add(uint64(size))
}

func (c *Counters) AcknowledgementSent(uint32) {
	c.Acknowledgements.Inc()
}
