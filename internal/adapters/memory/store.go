// Package memory is an in-process implementation of the storage ports. A single mutex
// serializes every unit of work, which trivially satisfies the per-place locking contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type state struct {
	bookings   map[int64]domain.Booking
	byRequest  map[string]int64
	txs        map[int64]domain.Transaction
	outbox     []domain.OutboxRecord
	bookingSeq int64
	txSeq      int64
}

func (s *state) clone() *state {
	c := &state{
		bookings:   make(map[int64]domain.Booking, len(s.bookings)),
		byRequest:  make(map[string]int64, len(s.byRequest)),
		txs:        make(map[int64]domain.Transaction, len(s.txs)),
		outbox:     append([]domain.OutboxRecord(nil), s.outbox...),
		bookingSeq: s.bookingSeq,
		txSeq:      s.txSeq,
	}
	for k, v := range s.bookings {
		c.bookings[k] = copyBooking(v)
	}
	for k, v := range s.byRequest {
		c.byRequest[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	return c
}

type Store struct {
	mu     sync.Mutex
	st     *state
	places map[int64]domain.Place
	events []domain.PaymentEvent
}

func NewStore() *Store {
	return &Store{
		st: &state{
			bookings:  map[int64]domain.Booking{},
			byRequest: map[string]int64{},
			txs:       map[int64]domain.Transaction{},
		},
		places: map[int64]domain.Place{},
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	err := fn(&memTx{st: s.st})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
	}
	return err
}

func (s *Store) AddPlace(p domain.Place) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.places[p.ID] = p
}

func (s *Store) GetPlace(ctx context.Context, id int64) (*domain.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.places[id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "place %d", id)
	}
	return &p, nil
}

// ListPlaces returns the listings with the given ids; unknown ids are skipped.
func (s *Store) ListPlaces(ctx context.Context, ids []int64) ([]domain.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Place, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.places[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{st: s.st}).GetBookingForUpdate(ctx, id)
}

func (s *Store) GetBookingByRequestID(ctx context.Context, requestID string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{st: s.st}).GetBookingByRequestIDForUpdate(ctx, requestID)
}

func (s *Store) ListPlaceBookings(ctx context.Context, placeID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&memTx{st: s.st}).ListPlaceBookings(ctx, placeID, statuses...)
}

func (s *Store) BookingTransactions(ctx context.Context, bookingID int64) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.st.txs {
		if t.BookingID == bookingID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.st.txs {
		if !t.CreateDate.Before(from) && t.CreateDate.Before(to) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.st.txs {
		if t.State == domain.TxPending && t.CreateDate.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxRecord
	for _, rec := range s.st.outbox {
		if rec.Status == "NEW" {
			out = append(out, rec)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			s.st.outbox[i].Status = "PUBLISHED"
			s.st.outbox[i].PublishedAt = &publishedAt
			return nil
		}
	}
	return errors.Wrapf(domain.ErrNotFound, "outbox %s", id)
}

// Outbox returns every recorded event, published or not.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxRecord(nil), s.st.outbox...)
}

// TransactionCount is the number of ledger rows ever created.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.txs)
}

func (s *Store) Append(ctx context.Context, ev domain.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) History(ctx context.Context, bookingID int64) ([]domain.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentEvent
	for _, ev := range s.events {
		if ev.BookingID == bookingID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func copyBooking(b domain.Booking) domain.Booking {
	b.TimeSlots = append([]domain.TimeSlot(nil), b.TimeSlots...)
	if b.PaymentResponse != nil {
		b.PaymentResponse = append([]byte(nil), b.PaymentResponse...)
	}
	return b
}
