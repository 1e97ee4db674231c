package domain

import "strconv"

const (
	EventBookingCreated   = "booking.created"
	EventBookingSelected  = "booking.selected"
	EventBookingApproved  = "booking.approved"
	EventBookingRejected  = "booking.rejected"
	EventPaymentPrepared  = "payment.prepared"
	EventPaymentCompleted = "payment.completed"
	EventPaymentCanceled  = "payment.canceled"
)

// BookingEvent is the outbox payload for booking.* events.
type BookingEvent struct {
	BookingID int64         `json:"booking_id"`
	PlaceID   int64         `json:"place_id"`
	UserID    string        `json:"user_id"`
	From      BookingStatus `json:"from,omitempty"`
	Status    BookingStatus `json:"status"`
	ActorID   string        `json:"actor_id"`
}

// PaymentEventPayload is the outbox payload for payment.* events.
type PaymentEventPayload struct {
	BookingID     int64  `json:"booking_id"`
	TransactionID int64  `json:"transaction_id"`
	ClickTransID  int64  `json:"click_trans_id"`
	PrepareID     int64  `json:"prepare_id"`
	Amount        string `json:"amount"`
	State         string `json:"state"`
}

// NewPaymentOutboxRecord builds the outbox record of a payment.* event, keyed by the transaction.
func NewPaymentOutboxRecord(event string, t *Transaction) (OutboxRecord, error) {
	return NewOutboxRecord("transaction", strconv.FormatInt(t.ID, 10), event, PaymentEventPayload{
		BookingID:     t.BookingID,
		TransactionID: t.ID,
		ClickTransID:  t.ClickTransID,
		PrepareID:     t.PrepareID,
		Amount:        t.Amount.StringFixed(2),
		State:         string(t.State),
	})
}
