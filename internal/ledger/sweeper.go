package ledger

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

// Sweeper cancels transactions that stayed Pending longer than ttl, so a complete that
// arrives after the gateway's own timeout is answered with TransactionCanceled.
type Sweeper struct {
	store     domain.Store
	ledger    *Ledger
	ttl       time.Duration
	batchSize int
	logger    observability.Logger
}

func NewSweeper(store domain.Store, ledger *Ledger, ttl time.Duration, logger observability.Logger) *Sweeper {
	return &Sweeper{store: store, ledger: ledger, ttl: ttl, batchSize: 100, logger: logger}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.SweepOnce(ctx, now.UTC())
			if err != nil {
				s.logger.WithError(err).Error("failed to sweep stale transactions")
				continue
			}
			if n > 0 {
				s.logger.WithField("canceled", n).Info("stale transactions canceled")
			}
		}
	}
}

// SweepOnce cancels the stale Pending transactions visible at now and returns how many it moved.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.ListStalePending(ctx, now.Add(-s.ttl), s.batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list stale pending")
	}

	canceled := 0
	for _, t := range stale {
		var moved bool
		op := func() error {
			var err error
			moved, err = s.cancelOne(ctx, t)
			if errors.Is(err, domain.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			s.logger.WithError(err).WithField("transaction_id", t.ID).Error("failed to cancel stale transaction after retries")
			continue
		}
		if moved {
			canceled++
			observability.StaleTransactionsCanceled.Inc()
		}
	}
	return canceled, nil
}

// cancelOne takes the place, booking and transaction locks in the same order as the
// payment callbacks.
func (s *Sweeper) cancelOne(ctx context.Context, stale domain.Transaction) (bool, error) {
	head, err := s.store.GetBooking(ctx, stale.BookingID)
	if err != nil {
		return false, err
	}

	moved := false
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		moved = false
		if err := tx.LockPlace(ctx, head.PlaceID); err != nil {
			return err
		}
		b, err := tx.GetBookingForUpdate(ctx, stale.BookingID)
		if err != nil {
			return err
		}
		t, err := tx.GetTransactionForUpdate(ctx, stale.ID)
		if err != nil {
			return err
		}
		if t.State != domain.TxPending {
			return nil
		}
		if err := s.ledger.Cancel(ctx, tx, t); err != nil {
			return err
		}

		if b.PaymentStatus != domain.PaymentPaid {
			b.PaymentStatus = domain.PaymentFailed
			b.UpdatedAt = time.Now().UTC()
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
		}

		rec, err := domain.NewPaymentOutboxRecord(domain.EventPaymentCanceled, t)
		if err != nil {
			return err
		}
		moved = true
		return tx.InsertOutbox(ctx, rec)
	})
	return moved, err
}
