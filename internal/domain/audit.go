package domain

import (
	"context"
	"time"
)

// PaymentEvent is one append-only record of a gateway callback for a booking.
type PaymentEvent struct {
	BookingID    int64             `json:"bookingId"`
	RequestID    string            `json:"requestId"`
	Action       string            `json:"action"`
	ClickTransID int64             `json:"clickTransId"`
	Code         int               `json:"code"`
	Note         string            `json:"note"`
	Payload      map[string]string `json:"payload"`
	At           time.Time         `json:"at"`
}

type PaymentAuditLog interface {
	Append(ctx context.Context, ev PaymentEvent) error
}
