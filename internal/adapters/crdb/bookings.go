package crdb

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, place_id, user_id, time_slots, check_in_date, check_out_date, status,
	unique_request_id, total_price::STRING, final_total::STRING, payment_status, payment_response,
	approved_at, rejected_at, reject_reason, paid_to_host, paid_to_host_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (*domain.Booking, error) {
	var (
		b                   domain.Booking
		slots, response     []byte
		checkIn, checkOut   time.Time
		totalPrice, final   string
		status, paymentStat string
	)
	err := row.Scan(&b.ID, &b.PlaceID, &b.UserID, &slots, &checkIn, &checkOut, &status,
		&b.UniqueRequestID, &totalPrice, &final, &paymentStat, &response,
		&b.ApprovedAt, &b.RejectedAt, &b.RejectReason, &b.PaidToHost, &b.PaidToHostAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(slots, &b.TimeSlots); err != nil {
		return nil, errors.Wrapf(err, "decode slots of booking %d", b.ID)
	}
	if len(b.TimeSlots) == 0 {
		b.TimeSlots = nil
	}
	if b.TotalPrice, err = decimal.NewFromString(totalPrice); err != nil {
		return nil, err
	}
	if b.FinalTotal, err = decimal.NewFromString(final); err != nil {
		return nil, err
	}
	b.CheckInDate = civil.DateOf(checkIn)
	b.CheckOutDate = civil.DateOf(checkOut)
	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStat)
	if len(response) > 0 {
		b.PaymentResponse = response
	}
	return &b, nil
}

func getBooking(ctx context.Context, q querier, sql string, arg any) (*domain.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %v", arg)
	}
	return b, err
}

func listPlaceBookings(ctx context.Context, q querier, placeID int64, statuses []domain.BookingStatus) ([]domain.Booking, error) {
	filter := make([]string, len(statuses))
	for i, s := range statuses {
		filter[i] = string(s)
	}
	sql := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE place_id = $1 AND (cardinality($2::STRING[]) = 0 OR status = ANY($2::STRING[]))
		ORDER BY id ASC`
	rows, err := q.Query(ctx, sql, placeID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func slotsJSON(slots []domain.TimeSlot) (string, error) {
	if slots == nil {
		slots = []domain.TimeSlot{}
	}
	data, err := json.Marshal(slots)
	return string(data), err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
