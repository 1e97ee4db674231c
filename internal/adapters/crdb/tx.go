package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

// pgTx implements domain.Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

// LockPlace takes a row lock on the place's lock row; it is held until the transaction ends.
func (t *pgTx) LockPlace(ctx context.Context, placeID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO place_locks (place_id, locked_at) VALUES ($1, now())
		ON CONFLICT (place_id) DO UPDATE SET locked_at = excluded.locked_at
	`, placeID)
	return errors.Wrapf(err, "lock place %d", placeID)
}

func (t *pgTx) GetBookingForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	return getBooking(ctx, t.tx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) GetBookingByRequestIDForUpdate(ctx context.Context, requestID string) (*domain.Booking, error) {
	return getBooking(ctx, t.tx, `SELECT `+bookingColumns+` FROM bookings WHERE unique_request_id = $1 FOR UPDATE`, requestID)
}

func (t *pgTx) ListPlaceBookings(ctx context.Context, placeID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	return listPlaceBookings(ctx, t.tx, placeID, statuses)
}

func (t *pgTx) CreateBooking(ctx context.Context, b *domain.Booking) error {
	slots, err := slotsJSON(b.TimeSlots)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO bookings (place_id, user_id, time_slots, check_in_date, check_out_date, status,
			unique_request_id, total_price, final_total, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, b.PlaceID, b.UserID, slots, b.CheckInDate.String(), b.CheckOutDate.String(), string(b.Status),
		b.UniqueRequestID, b.TotalPrice.String(), b.FinalTotal.String(), string(b.PaymentStatus), b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "request id %q", b.UniqueRequestID)
	}
	return err
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $2, final_total = $3, payment_status = $4, payment_response = $5,
			approved_at = $6, rejected_at = $7, reject_reason = $8, paid_to_host = $9, paid_to_host_at = $10,
			updated_at = $11
		WHERE id = $1
	`, b.ID, string(b.Status), b.FinalTotal.String(), string(b.PaymentStatus), nullableJSON(b.PaymentResponse),
		b.ApprovedAt, b.RejectedAt, b.RejectReason, b.PaidToHost, b.PaidToHostAt, b.UpdatedAt)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "booking %d", b.ID)
	}
	return nil
}

const transactionColumns = `id, click_trans_id, click_paydoc_id, booking_id, user_id, prepare_id, state,
	amount::STRING, create_date, perform_date, cancel_date`

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		state  string
		amount string
	)
	err := row.Scan(&t.ID, &t.ClickTransID, &t.ClickPaydoc, &t.BookingID, &t.UserID, &t.PrepareID, &state,
		&amount, &t.CreateDate, &t.PerformDate, &t.CancelDate)
	if err != nil {
		return nil, err
	}
	t.State = domain.TransactionState(state)
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	return &t, nil
}

func getTransaction(ctx context.Context, q querier, sql string, arg any) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "transaction %v", arg)
	}
	return t, err
}

func listTransactions(ctx context.Context, q querier, sql string, args ...any) ([]domain.Transaction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (t *pgTx) GetTransactionByClickID(ctx context.Context, clickTransID int64) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, `SELECT `+transactionColumns+` FROM transactions WHERE click_trans_id = $1 FOR UPDATE`, clickTransID)
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id int64) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) GetTransactionByPrepareIDForUpdate(ctx context.Context, prepareID int64) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, `SELECT `+transactionColumns+` FROM transactions WHERE prepare_id = $1 FOR UPDATE`, prepareID)
}

func (t *pgTx) PaidTransaction(ctx context.Context, bookingID int64) (*domain.Transaction, error) {
	return getTransaction(ctx, t.tx, `
		SELECT `+transactionColumns+` FROM transactions WHERE booking_id = $1 AND state = 'paid' LIMIT 1
	`, bookingID)
}

func (t *pgTx) CreateTransaction(ctx context.Context, tr *domain.Transaction) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (click_trans_id, click_paydoc_id, booking_id, user_id, prepare_id, state,
			amount, create_date, perform_date, cancel_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, tr.ClickTransID, tr.ClickPaydoc, tr.BookingID, tr.UserID, tr.PrepareID, string(tr.State),
		tr.Amount.String(), tr.CreateDate, tr.PerformDate, tr.CancelDate,
	).Scan(&tr.ID)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "click transaction %d", tr.ClickTransID)
	}
	return err
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr *domain.Transaction) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE transactions SET state = $2, perform_date = $3, cancel_date = $4 WHERE id = $1
	`, tr.ID, string(tr.State), tr.PerformDate, tr.CancelDate)
	if isUniqueViolation(err) {
		return errors.Wrapf(domain.ErrConflict, "booking %d already has a paid transaction", tr.BookingID)
	}
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "transaction %d", tr.ID)
	}
	return nil
}

func (t *pgTx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	return insertOutbox(ctx, t.tx, record)
}
