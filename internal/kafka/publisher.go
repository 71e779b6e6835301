package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// QueuePublisher relays queue items to one topic per category, keyed by order id. The envelope's
// event id is the queue item id, so consumers can dedup redeliveries after a relay retry.
type QueuePublisher struct {
	Producer *Producer
	Service  string
}

// Publish implements queue.Publisher.
func (p *QueuePublisher) Publish(ctx context.Context, item orders.QueueItem) error {
	topic := orders.TopicFor(item.Category)
	if topic == "" {
		return fmt.Errorf("no topic for queue type %q", item.Category)
	}
	ev := orders.Envelope{
		EventID:       item.ID,
		EventType:     orders.EventQueueItem,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.Service,
		CorrelationID: item.OrderID,
		Payload:       MustMarshal(item),
	}
	return p.Producer.Publish(ctx, topic, orders.PartitionKey(item.OrderID), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(orders.EventQueueItem)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
		kafka.Header{Key: "x-queue-type", Value: []byte(item.Category)},
		kafka.Header{Key: "x-attempt", Value: []byte(strconv.Itoa(item.Attempts))},
	)
}
