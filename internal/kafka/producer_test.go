package kafka

import (
	"log/slog"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestProducerBalancerPinsKeyToPartition(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "payments.events", slog.Default())
	balancer := p.writer.Balancer

	partitions := []int{0, 1, 2, 3, 4, 5}
	key := []byte("2f0c7a4e-9f3b-4a57-9a6d-6d1f6f1f2a10")

	first := balancer.Balance(kafkago.Message{Key: key}, partitions...)

	// Unrelated traffic in between must not move the key off its partition.
	for _, other := range []string{"a", "bb", "ccc", "dddd"} {
		balancer.Balance(kafkago.Message{Key: []byte(other)}, partitions...)
	}

	second := balancer.Balance(kafkago.Message{Key: key}, partitions...)
	assert.Equal(t, first, second, "same key must always route to the same partition")
}
