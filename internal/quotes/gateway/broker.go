// Package gateway puts a broker between the ingestors and the hub, so more
// than one process can feed and serve the same live stream.
package gateway

import "context"

// TopicPrices carries encoded live price frames.
const TopicPrices = "quotes:prices"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker delivers at most once. A slow subscriber loses messages rather than
// stalling publishers.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
