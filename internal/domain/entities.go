package domain

import (
	"encoding/json"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleClient Role = "client"
	RoleHost   Role = "host"
	RoleAgent  Role = "agent"
)

// Actor is the authenticated caller as resolved by the identity capability.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAgent() bool { return a.Role == RoleAgent }

// System is used for transitions that originate from verified gateway callbacks.
var System = Actor{UserID: "system", Role: RoleAgent}

type OpenHours struct {
	Open  Clock `json:"open"`
	Close Clock `json:"close"`
}

// Place carries the owner and the advisory calendar constraints of a listing.
type Place struct {
	ID               int64
	OwnerID          string
	StartDate        civil.Date
	EndDate          civil.Date
	BlockedDates     map[civil.Date]struct{}
	BlockedWeekdays  map[time.Weekday]struct{}
	WeekdayTimeSlots map[time.Weekday]OpenHours
	CheckIn          *Clock
	CheckOut         *Clock
	MinimumHours     int
}

type BookingStatus string

const (
	BookingPending  BookingStatus = "pending"
	BookingSelected BookingStatus = "selected"
	BookingApproved BookingStatus = "approved"
	BookingRejected BookingStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

type TimeSlot struct {
	Date      civil.Date `json:"date"`
	StartTime Clock      `json:"startTime"`
	EndTime   Clock      `json:"endTime"`
}

func (s TimeSlot) Range() TimeRange { return TimeRange{Start: s.StartTime, End: s.EndTime} }

type Booking struct {
	ID              int64           `json:"id"`
	PlaceID         int64           `json:"placeId"`
	UserID          string          `json:"userId"`
	TimeSlots       []TimeSlot      `json:"timeSlots"`
	CheckInDate     civil.Date      `json:"checkInDate"`
	CheckOutDate    civil.Date      `json:"checkOutDate"`
	Status          BookingStatus   `json:"status"`
	UniqueRequestID string          `json:"uniqueRequestId"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	FinalTotal      decimal.Decimal `json:"finalTotal"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	PaymentResponse json.RawMessage `json:"paymentResponse,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time      `json:"rejectedAt,omitempty"`
	RejectReason    string          `json:"rejectReason,omitempty"`
	PaidToHost      bool            `json:"paidToHost"`
	PaidToHostAt    *time.Time      `json:"paidToHostAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// FullDay reports whether the booking spans CheckInDate..CheckOutDate rather than explicit slots.
func (b *Booking) FullDay() bool { return len(b.TimeSlots) == 0 }

type TransactionState string

const (
	TxPending  TransactionState = "pending"
	TxPaid     TransactionState = "paid"
	TxCanceled TransactionState = "canceled"
)

type Transaction struct {
	ID           int64            `json:"id"`
	ClickTransID int64            `json:"clickTransId"`
	ClickPaydoc  int64            `json:"clickPaydocId"`
	BookingID    int64            `json:"bookingId"`
	UserID       string           `json:"userId"`
	PrepareID    int64            `json:"prepareId"`
	State        TransactionState `json:"state"`
	Amount       decimal.Decimal  `json:"amount"`
	CreateDate   time.Time        `json:"createDate"`
	PerformDate  *time.Time       `json:"performDate,omitempty"`
	CancelDate   *time.Time       `json:"cancelDate,omitempty"`
}
