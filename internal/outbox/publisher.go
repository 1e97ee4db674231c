// Package outbox relays committed outbox rows to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

type EventPublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher delivers at least once: a row is marked published only after the broker took it,
// and consumers deduplicate on MessageId.
type Publisher struct {
	store      domain.OutboxStore
	pub        EventPublisher
	logger     observability.Logger
	batch      int
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

func NewPublisher(store domain.OutboxStore, pub EventPublisher, logger observability.Logger) *Publisher {
	return &Publisher{
		store:  store,
		pub:    pub,
		logger: logger,
		batch:  50,
		now:    time.Now,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(bo, 3)
		},
	}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil {
				p.logger.WithError(err).Error("outbox relay failed")
			}
		}
	}
}

// PublishOnce relays one batch in creation order and returns how many rows were published.
// It stops at the first row the broker refuses so that ordering is kept.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	records, err := p.store.GetUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Timestamp:   rec.CreatedAt,
			Type:        rec.EventType,
			Body:        rec.Payload,
		}
		err := backoff.RetryNotify(func() error {
			return p.pub.Publish(ctx, rec.EventType, msg)
		}, backoff.WithContext(p.newBackOff(), ctx), func(err error, _ time.Duration) {
			observability.RabbitPublishRetries.Inc()
			p.logger.WithField("event_type", rec.EventType).WithError(err).Warn("publish failed, retrying")
		})
		if err != nil {
			return published, err
		}
		if err := p.store.MarkPublished(ctx, rec.ID, p.now().UTC()); err != nil {
			return published, err
		}
		published++
	}
	p.logger.WithField("count", published).Debug("outbox batch published")
	return published, nil
}
