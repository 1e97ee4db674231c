// Package ledger is the single source of truth for whether a booking is paid.
// Transactions are created once per gateway transaction id and then only mutated in place:
// Pending -> Paid or Pending -> Canceled.
package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAlreadyPaid         = errors.New("booking already paid")
	ErrTransactionCanceled = errors.New("transaction canceled")
)

// PrepareIDs mints millisecond-timestamp ids that are strictly increasing within the process.
type PrepareIDs struct {
	last atomic.Int64
	now  func() time.Time
}

func NewPrepareIDs(now func() time.Time) *PrepareIDs {
	return &PrepareIDs{now: now}
}

func (p *PrepareIDs) Next() int64 {
	for {
		last := p.last.Load()
		next := p.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if p.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

type Ledger struct {
	now func() time.Time
	ids *PrepareIDs
}

func New() *Ledger {
	now := func() time.Time { return time.Now().UTC() }
	return &Ledger{now: now, ids: NewPrepareIDs(now)}
}

// WithClock is used by tests that need deterministic timestamps.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	return &Ledger{now: now, ids: NewPrepareIDs(now)}
}

type PrepareInput struct {
	ClickTransID int64
	ClickPaydoc  int64
	BookingID    int64
	UserID       string
	Amount       decimal.Decimal
}

// Prepare records a Pending transaction. A replay for a gateway transaction id that is still
// Pending returns the existing row with created=false.
func (l *Ledger) Prepare(ctx context.Context, tx domain.Tx, in PrepareInput) (t *domain.Transaction, created bool, err error) {
	if _, err := tx.PaidTransaction(ctx, in.BookingID); err == nil {
		return nil, false, errors.Wrapf(ErrAlreadyPaid, "booking %d", in.BookingID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	existing, err := tx.GetTransactionByClickID(ctx, in.ClickTransID)
	switch {
	case err == nil:
		if existing.BookingID != in.BookingID {
			return nil, false, errors.Wrapf(domain.ErrConflict, "click transaction %d belongs to booking %d", in.ClickTransID, existing.BookingID)
		}
		switch existing.State {
		case domain.TxCanceled:
			return nil, false, errors.Wrapf(ErrTransactionCanceled, "click transaction %d", in.ClickTransID)
		case domain.TxPaid:
			return nil, false, errors.Wrapf(ErrAlreadyPaid, "click transaction %d", in.ClickTransID)
		}
		return existing, false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, err
	}

	t = &domain.Transaction{
		ClickTransID: in.ClickTransID,
		ClickPaydoc:  in.ClickPaydoc,
		BookingID:    in.BookingID,
		UserID:       in.UserID,
		PrepareID:    l.ids.Next(),
		State:        domain.TxPending,
		Amount:       in.Amount,
		CreateDate:   l.now(),
	}
	if err := tx.CreateTransaction(ctx, t); err != nil {
		return nil, false, errors.Wrap(err, "create transaction")
	}
	return t, true, nil
}

// Lookup loads the transaction minted for prepareID and checks it belongs to clickTransID.
func (l *Ledger) Lookup(ctx context.Context, tx domain.Tx, prepareID, clickTransID int64) (*domain.Transaction, error) {
	t, err := tx.GetTransactionByPrepareIDForUpdate(ctx, prepareID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrapf(ErrTransactionNotFound, "prepare id %d", prepareID)
	}
	if err != nil {
		return nil, err
	}
	if t.ClickTransID != clickTransID {
		return nil, errors.Wrapf(ErrTransactionNotFound, "prepare id %d is not click transaction %d", prepareID, clickTransID)
	}
	return t, nil
}

// Complete moves a Pending transaction to Paid. It refuses if any transaction of the
// booking already reached Paid.
func (l *Ledger) Complete(ctx context.Context, tx domain.Tx, t *domain.Transaction) error {
	switch t.State {
	case domain.TxPaid:
		return errors.Wrapf(ErrAlreadyPaid, "transaction %d", t.ID)
	case domain.TxCanceled:
		return errors.Wrapf(ErrTransactionCanceled, "transaction %d", t.ID)
	}
	paid, err := tx.PaidTransaction(ctx, t.BookingID)
	if err == nil && paid.ID != t.ID {
		return errors.Wrapf(ErrAlreadyPaid, "booking %d paid by transaction %d", t.BookingID, paid.ID)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	now := l.now()
	t.State = domain.TxPaid
	t.PerformDate = &now
	return tx.UpdateTransaction(ctx, t)
}

// Cancel moves a Pending transaction to Canceled; canceling twice is a no-op.
func (l *Ledger) Cancel(ctx context.Context, tx domain.Tx, t *domain.Transaction) error {
	switch t.State {
	case domain.TxCanceled:
		return nil
	case domain.TxPaid:
		return errors.Wrapf(ErrAlreadyPaid, "transaction %d", t.ID)
	}
	now := l.now()
	t.State = domain.TxCanceled
	t.CancelDate = &now
	return tx.UpdateTransaction(ctx, t)
}

// Status is the ledger's view of a booking's payment.
type Status string

const (
	StatusNone       Status = "none"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusCanceled   Status = "canceled"
)

// BookingStatus derives the payment state of a booking. A Paid transaction wins over
// any other attempt; otherwise the most recent transaction decides.
func BookingStatus(ctx context.Context, r domain.Reader, bookingID int64) (Status, *domain.Transaction, error) {
	txs, err := r.BookingTransactions(ctx, bookingID)
	if err != nil {
		return "", nil, err
	}
	if len(txs) == 0 {
		return StatusNone, nil, nil
	}
	for i := range txs {
		if txs[i].State == domain.TxPaid {
			return StatusPaid, &txs[i], nil
		}
	}
	latest := &txs[len(txs)-1]
	if latest.State == domain.TxCanceled {
		return StatusCanceled, latest, nil
	}
	return StatusProcessing, latest, nil
}
