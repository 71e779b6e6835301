package processor

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ariefcatur/go-order-engine/internal/kafka"
	"github.com/ariefcatur/go-order-engine/internal/orders"
)

// Deduper remembers event ids that were already applied.
type Deduper interface {
	Seen(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// VerificationHandler applies verification outcomes published by the review system.
type VerificationHandler struct {
	Processor *Processor
	Dedup     Deduper
}

// Handle returns nil when the offset may be committed: applied, duplicate, or permanently rejected.
func (h *VerificationHandler) Handle(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		logrus.WithField("component", "verification").WithError(err).Warn("dropping undecodable message")
		return nil
	}
	if env.EventType != orders.EventVerificationOutcome {
		return nil
	}
	log := logrus.WithFields(logrus.Fields{"component": "verification", "event_id": env.EventID, "order_id": env.CorrelationID})

	// 2) dedup by event_id
	if h.Dedup != nil && env.EventID != "" {
		seen, err := h.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			log.WithError(err).Warn("dedup lookup failed, processing anyway")
		}
		if seen {
			return nil
		}
	}

	// 3) payload
	out, err := kafkax.UnwrapPayload[orders.VerificationOutcome](env.Payload)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable verification payload")
		return nil
	}
	if out.OrderID == "" {
		out.OrderID = env.CorrelationID
	}

	if _, err := h.Processor.ApplyVerification(ctx, out); err != nil {
		switch orders.KindOf(err) {
		case orders.KindConcurrency, orders.KindSystem:
			return fmt.Errorf("apply verification %s: %w", out.OrderID, err)
		}
		// validation, state and not-found outcomes will not change on redelivery
		log.WithError(err).Warn("verification outcome rejected")
	}

	if h.Dedup != nil && env.EventID != "" {
		if err := h.Dedup.Mark(ctx, env.EventID); err != nil {
			log.WithError(err).Warn("dedup mark failed")
		}
	}
	return nil
}
