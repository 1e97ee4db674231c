// Package crdb stores bookings, ledger transactions and the outbox in CockroachDB.
// Every unit of work runs SERIALIZABLE and is retried on 40001.
package crdb

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 3
)

//go:embed schema.sql
var schema string

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables when they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

// WithTx runs fn in a serializable transaction, retrying it when the database reports a
// serialization failure. After the last attempt the error is domain.ErrSerializationFailure.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.attempt(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		if attempt < maxTxAttempts {
			observability.DBTxRetries.Inc()
		}
	}
	return errors.Wrapf(domain.ErrSerializationFailure, "transaction retries exhausted: %v", err)
}

func (s *Store) attempt(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	return getBooking(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (s *Store) GetBookingByRequestID(ctx context.Context, requestID string) (*domain.Booking, error) {
	return getBooking(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings WHERE unique_request_id = $1`, requestID)
}

func (s *Store) ListPlaceBookings(ctx context.Context, placeID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	return listPlaceBookings(ctx, s.pool, placeID, statuses)
}

func (s *Store) BookingTransactions(ctx context.Context, bookingID int64) ([]domain.Transaction, error) {
	return listTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE booking_id = $1 ORDER BY create_date ASC, id ASC
	`, bookingID)
}

func (s *Store) ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	return listTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE create_date >= $1 AND create_date < $2 ORDER BY create_date ASC, id ASC
	`, from, to)
}

func (s *Store) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Transaction, error) {
	return listTransactions(ctx, s.pool, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE state = 'pending' AND create_date < $1 ORDER BY create_date ASC LIMIT $2
	`, before, limit)
}
