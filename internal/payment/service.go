package payment

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/ledger"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/shopspring/decimal"
)

// BookingGetter returns a booking after checking the actor may see it.
type BookingGetter interface {
	Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Booking, error)
}

// Invoicer pushes a payment request to the payer's phone.
type Invoicer interface {
	CreateInvoice(ctx context.Context, phone, requestID string, amount decimal.Decimal) (*InvoiceResult, error)
}

// Service answers the authenticated client's payment questions. Every answer is re-derived
// from the ledger.
type Service struct {
	store    domain.Store
	bookings BookingGetter
	approver Approver
	invoicer Invoicer
	cfg      config.Click
	logger   observability.Logger
}

func NewService(store domain.Store, bookings BookingGetter, approver Approver, invoicer Invoicer, cfg config.Click, logger observability.Logger) *Service {
	return &Service{store: store, bookings: bookings, approver: approver, invoicer: invoicer, cfg: cfg, logger: logger}
}

type Invoice struct {
	BookingID    int64  `json:"bookingId"`
	RequestID    string `json:"uniqueRequestId"`
	Amount       string `json:"amount"`
	CheckoutURL  string `json:"checkoutUrl"`
	InvoiceID    int64  `json:"invoiceId,omitempty"`
	InvoiceError string `json:"invoiceError,omitempty"`
}

// CreateInvoice issues the checkout link for a selected booking, and a phone invoice when
// userPhone is given. A failed phone invoice is reported in the result, not as an error.
func (s *Service) CreateInvoice(ctx context.Context, actor domain.Actor, bookingID int64, userPhone string) (*Invoice, error) {
	b, err := s.bookings.Get(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingSelected {
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "booking %d is %s, not awaiting payment", b.ID, b.Status)
	}
	status, _, err := ledger.BookingStatus(ctx, s.store, b.ID)
	if err != nil {
		return nil, err
	}
	if status == ledger.StatusPaid {
		return nil, errors.Wrapf(domain.ErrConflict, "booking %d is already paid", b.ID)
	}

	link, err := CheckoutURL(s.cfg, b.ID, b.UniqueRequestID, b.FinalTotal)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{BookingID: b.ID, RequestID: b.UniqueRequestID, Amount: b.FinalTotal.StringFixed(2), CheckoutURL: link}
	if userPhone == "" || s.invoicer == nil {
		return inv, nil
	}

	res, err := s.invoicer.CreateInvoice(ctx, userPhone, b.UniqueRequestID, b.FinalTotal)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).WithError(err).WithField("booking_id", b.ID).Warn("click invoice")
		inv.InvoiceError = "invoice could not be sent; use the checkout link"
		return inv, nil
	}
	inv.InvoiceID = res.InvoiceID
	return inv, nil
}

// Status is the payment view of one booking.
type Status struct {
	BookingID     int64                `json:"bookingId"`
	BookingStatus domain.BookingStatus `json:"bookingStatus"`
	PaymentStatus ledger.Status        `json:"paymentStatus"`
	TransactionID int64                `json:"transactionId,omitempty"`
	Amount        string               `json:"amount,omitempty"`
	Approved      bool                 `json:"approved"`
	ErrorCode     Code                 `json:"errorCode"`
}

func (s *Service) Status(ctx context.Context, actor domain.Actor, bookingID int64) (*Status, error) {
	b, err := s.bookings.Get(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	status, t, err := ledger.BookingStatus(ctx, s.store, b.ID)
	if err != nil {
		return nil, err
	}
	return view(b, status, t), nil
}

// SmartCheck is the poller's endpoint. When the ledger holds a paid transaction but the booking
// was never approved, it performs the approval before answering.
func (s *Service) SmartCheck(ctx context.Context, actor domain.Actor, bookingID int64) (*Status, error) {
	b, err := s.bookings.Get(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	status, t, err := ledger.BookingStatus(ctx, s.store, b.ID)
	if err != nil {
		return nil, err
	}
	if status == ledger.StatusPaid && (b.Status == domain.BookingSelected || b.Status == domain.BookingPending) {
		if b, err = s.converge(ctx, b); err != nil {
			return nil, err
		}
	}
	return view(b, status, t), nil
}

func (s *Service) converge(ctx context.Context, head *domain.Booking) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.LockPlace(ctx, head.PlaceID); err != nil {
			return err
		}
		b, err := tx.GetBookingForUpdate(ctx, head.ID)
		if err != nil {
			return err
		}
		out = b
		if b.Status != domain.BookingSelected && b.Status != domain.BookingPending {
			return nil
		}
		paid, err := tx.PaidTransaction(ctx, b.ID)
		if err != nil {
			return err
		}
		return s.approver.ApprovePaid(ctx, tx, b, paid.Amount)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "converge paid booking %d", head.ID)
	}
	observability.LoggerFromContext(ctx, s.logger).WithField("booking_id", head.ID).Info("approved booking from paid ledger")
	return out, nil
}

func view(b *domain.Booking, status ledger.Status, t *domain.Transaction) *Status {
	st := &Status{
		BookingID:     b.ID,
		BookingStatus: b.Status,
		PaymentStatus: status,
		Approved:      b.Status == domain.BookingApproved,
	}
	if t != nil {
		st.TransactionID = t.ID
		st.Amount = t.Amount.StringFixed(2)
	}
	switch {
	case b.Status == domain.BookingRejected:
		st.ErrorCode = CodeTransactionCanceled
	case status == ledger.StatusCanceled && !st.Approved:
		st.ErrorCode = CodeTransactionCanceled
	}
	return st
}
