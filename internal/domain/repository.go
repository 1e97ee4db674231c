package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// PlaceReader resolves listings owned by the external catalog.
type PlaceReader interface {
	GetPlace(ctx context.Context, id int64) (*Place, error)
}

// Reader holds the non-locking queries.
type Reader interface {
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	GetBookingByRequestID(ctx context.Context, requestID string) (*Booking, error)
	ListPlaceBookings(ctx context.Context, placeID int64, statuses ...BookingStatus) ([]Booking, error)
	BookingTransactions(ctx context.Context, bookingID int64) ([]Transaction, error)
	ListTransactions(ctx context.Context, from, to time.Time) ([]Transaction, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
}

// Tx is one atomically visible unit of work. Rows read through the *ForUpdate methods
// and places passed to LockPlace stay locked until the unit commits or rolls back.
type Tx interface {
	LockPlace(ctx context.Context, placeID int64) error
	GetBookingForUpdate(ctx context.Context, id int64) (*Booking, error)
	GetBookingByRequestIDForUpdate(ctx context.Context, requestID string) (*Booking, error)
	ListPlaceBookings(ctx context.Context, placeID int64, statuses ...BookingStatus) ([]Booking, error)
	CreateBooking(ctx context.Context, b *Booking) error
	UpdateBooking(ctx context.Context, b *Booking) error

	GetTransactionByClickID(ctx context.Context, clickTransID int64) (*Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (*Transaction, error)
	GetTransactionByPrepareIDForUpdate(ctx context.Context, prepareID int64) (*Transaction, error)
	PaidTransaction(ctx context.Context, bookingID int64) (*Transaction, error)
	CreateTransaction(ctx context.Context, t *Transaction) error
	UpdateTransaction(ctx context.Context, t *Transaction) error

	InsertOutbox(ctx context.Context, record OutboxRecord) error
}

type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

type OutboxStore interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

func NewOutboxRecord(aggregateType, aggregateID, eventType string, payload any) (OutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, errors.Wrap(err, "marshal outbox payload")
	}
	id := uuid.New()
	return OutboxRecord{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
		Status:        "NEW",
		DedupeKey:     id.String(),
	}, nil
}
