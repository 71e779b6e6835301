package kafka

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler must return nil only when the message is done with and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       MessageReader
	workers int
	topic   string

	// RetryBase and RetryMax bound the wait between attempts of a failing message.
	RetryBase time.Duration
	RetryMax  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return NewConsumerWithReader(r, topic, workers)
}

func NewConsumerWithReader(r MessageReader, topic string, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, topic: topic, RetryBase: 200 * time.Millisecond, RetryMax: 30 * time.Second}
}

// Start dispatches messages to a worker pool until ctx ends. Messages of one partition key land on
// the same worker, so per-order ordering holds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	// wctx also ends worker retries when the reader fails on its own.
	wctx, wcancel := context.WithCancel(ctx)
	defer wcancel()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			log := logrus.WithFields(logrus.Fields{"component": "consumer", "topic": c.topic, "worker": id})
			for m := range in {
				// A later commit covers this offset too, so a failing message is retried in place
				// and blocks its key until it succeeds or ctx ends.
				err := backoff.Retry(func() error {
					err := h(wctx, m)
					if err != nil && wctx.Err() == nil {
						log.WithError(err).WithField("offset", m.Offset).Warn("handler failed, retrying")
					}
					return err
				}, backoff.WithContext(c.retryPolicy(), wctx))
				if err != nil {
					// shutting down; the uncommitted offset is redelivered on restart
					return
				}
				if err := c.r.CommitMessages(wctx, m); err != nil && wctx.Err() == nil {
					log.WithError(err).Warn("commit failed")
				}
			}
		}(i, jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wcancel()
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs[worker(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) retryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.RetryBase
	if b.InitialInterval <= 0 {
		b.InitialInterval = 200 * time.Millisecond
	}
	if c.RetryMax > 0 {
		b.MaxInterval = c.RetryMax
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func worker(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
