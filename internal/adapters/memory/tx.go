package memory

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type memTx struct {
	st *state
}

func (t *memTx) LockPlace(ctx context.Context, placeID int64) error { return nil }

func (t *memTx) GetBookingForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %d", id)
	}
	b = copyBooking(b)
	return &b, nil
}

func (t *memTx) GetBookingByRequestIDForUpdate(ctx context.Context, requestID string) (*domain.Booking, error) {
	id, ok := t.st.byRequest[requestID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %q", requestID)
	}
	return t.GetBookingForUpdate(ctx, id)
}

func (t *memTx) ListPlaceBookings(ctx context.Context, placeID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	var out []domain.Booking
	for _, b := range t.st.bookings {
		if b.PlaceID != placeID || !statusIn(b.Status, statuses) {
			continue
		}
		out = append(out, copyBooking(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CreateBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := t.st.byRequest[b.UniqueRequestID]; ok {
		return errors.Wrapf(domain.ErrConflict, "request id %q", b.UniqueRequestID)
	}
	t.st.bookingSeq++
	b.ID = t.st.bookingSeq
	t.st.bookings[b.ID] = copyBooking(*b)
	t.st.byRequest[b.UniqueRequestID] = b.ID
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "booking %d", b.ID)
	}
	t.st.bookings[b.ID] = copyBooking(*b)
	return nil
}

func (t *memTx) GetTransactionByClickID(ctx context.Context, clickTransID int64) (*domain.Transaction, error) {
	return t.findTx(func(tr domain.Transaction) bool { return tr.ClickTransID == clickTransID })
}

func (t *memTx) GetTransactionForUpdate(ctx context.Context, id int64) (*domain.Transaction, error) {
	return t.findTx(func(tr domain.Transaction) bool { return tr.ID == id })
}

func (t *memTx) GetTransactionByPrepareIDForUpdate(ctx context.Context, prepareID int64) (*domain.Transaction, error) {
	return t.findTx(func(tr domain.Transaction) bool { return tr.PrepareID == prepareID })
}

func (t *memTx) PaidTransaction(ctx context.Context, bookingID int64) (*domain.Transaction, error) {
	return t.findTx(func(tr domain.Transaction) bool {
		return tr.BookingID == bookingID && tr.State == domain.TxPaid
	})
}

func (t *memTx) CreateTransaction(ctx context.Context, tr *domain.Transaction) error {
	for _, existing := range t.st.txs {
		if existing.ClickTransID == tr.ClickTransID {
			return errors.Wrapf(domain.ErrConflict, "click transaction %d", tr.ClickTransID)
		}
	}
	t.st.txSeq++
	tr.ID = t.st.txSeq
	t.st.txs[tr.ID] = *tr
	return nil
}

func (t *memTx) UpdateTransaction(ctx context.Context, tr *domain.Transaction) error {
	if _, ok := t.st.txs[tr.ID]; !ok {
		return errors.Wrapf(domain.ErrNotFound, "transaction %d", tr.ID)
	}
	t.st.txs[tr.ID] = *tr
	return nil
}

func (t *memTx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	t.st.outbox = append(t.st.outbox, record)
	return nil
}

func (t *memTx) findTx(match func(domain.Transaction) bool) (*domain.Transaction, error) {
	ids := make([]int64, 0, len(t.st.txs))
	for id := range t.st.txs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		tr := t.st.txs[id]
		if match(tr) {
			return &tr, nil
		}
	}
	return nil, errors.Wrap(domain.ErrNotFound, "transaction")
}

func statusIn(s domain.BookingStatus, set []domain.BookingStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
