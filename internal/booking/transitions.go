package booking

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/shopspring/decimal"
)

// UpdateInput is the body of a status change request.
type UpdateInput struct {
	Status           domain.BookingStatus
	FinalTotal       *decimal.Decimal
	PaymentConfirmed bool
	AgentApproval    bool
	Reason           string
}

// UpdateStatus dispatches a requested status change to the matching transition.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, id int64, in UpdateInput) (*domain.Booking, error) {
	switch in.Status {
	case domain.BookingSelected:
		return s.Select(ctx, actor, id, in.FinalTotal)
	case domain.BookingApproved:
		return s.Approve(ctx, actor, id, ApproveOptions{PaymentConfirmed: in.PaymentConfirmed, AgentApproval: in.AgentApproval})
	case domain.BookingRejected:
		return s.Reject(ctx, actor, id, in.Reason)
	case domain.BookingPending:
		return nil, errors.Wrap(domain.ErrInvalidTransition, "a booking cannot return to pending")
	}
	return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown status %q", in.Status)
}

// transition runs fn with the place locked and the booking row held for update.
func (s *Service) transition(ctx context.Context, id int64, fn func(tx domain.Tx, place *domain.Place, b *domain.Booking) error) (*domain.Booking, error) {
	head, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	place, err := s.places.GetPlace(ctx, head.PlaceID)
	if err != nil {
		return nil, err
	}

	var out *domain.Booking
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.LockPlace(ctx, head.PlaceID); err != nil {
			return err
		}
		b, err := tx.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, place, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Select reserves the slots of a pending booking for payment. It fails with ErrSlotContested
// when an overlapping sibling is already selected and with ErrSlotUnavailable when one is approved.
func (s *Service) Select(ctx context.Context, actor domain.Actor, id int64, finalTotal *decimal.Decimal) (*domain.Booking, error) {
	if finalTotal != nil && finalTotal.IsNegative() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "final total must not be negative")
	}
	return s.transition(ctx, id, func(tx domain.Tx, place *domain.Place, b *domain.Booking) error {
		if !canManage(actor, place) {
			return errors.Wrapf(domain.ErrForbidden, "user %s cannot select booking %d", actor.UserID, id)
		}
		if b.Status == domain.BookingSelected {
			return nil
		}
		if !domain.CanTransition(b.Status, domain.BookingSelected) {
			return errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", b.Status, domain.BookingSelected)
		}
		if err := checkSiblings(ctx, tx, b, true); err != nil {
			return err
		}

		from := b.Status
		b.Status = domain.BookingSelected
		b.FinalTotal = b.TotalPrice
		if finalTotal != nil {
			b.FinalTotal = *finalTotal
		}
		b.UpdatedAt = s.now()
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		observability.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()
		return s.emit(ctx, tx, domain.EventBookingSelected, b, from, actor)
	})
}

// checkSiblings refuses when an approved booking on the place overlaps b, and when
// selecting is true also when an overlapping sibling is selected.
func checkSiblings(ctx context.Context, tx domain.Tx, b *domain.Booking, selecting bool) error {
	statuses := []domain.BookingStatus{domain.BookingApproved}
	if selecting {
		statuses = append(statuses, domain.BookingSelected)
	}
	siblings, err := tx.ListPlaceBookings(ctx, b.PlaceID, statuses...)
	if err != nil {
		return err
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == b.ID || !sib.Overlaps(b) {
			continue
		}
		if sib.Status == domain.BookingApproved {
			return errors.Wrapf(domain.ErrSlotUnavailable, "booking %d is approved for an overlapping slot", sib.ID)
		}
		observability.SelectConflicts.Inc()
		return errors.Wrapf(domain.ErrSlotContested, "booking %d is already selected for an overlapping slot", sib.ID)
	}
	return nil
}

type ApproveOptions struct {
	// PaymentConfirmed asks for approval on the strength of the payment ledger; it is
	// verified against the ledger, never trusted.
	PaymentConfirmed bool
	// AgentApproval approves without payment. Agents only.
	AgentApproval bool
}

// Approve confirms a booking. Hosts may approve a selected booking once the ledger holds a
// paid transaction for it; agents may additionally override payment or approve a pending booking.
// An overlapping sibling that is selected or approved blocks the approval.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id int64, opts ApproveOptions) (*domain.Booking, error) {
	return s.transition(ctx, id, func(tx domain.Tx, place *domain.Place, b *domain.Booking) error {
		if !canManage(actor, place) {
			return errors.Wrapf(domain.ErrForbidden, "user %s cannot approve booking %d", actor.UserID, id)
		}
		switch b.Status {
		case domain.BookingApproved:
			return nil
		case domain.BookingPending:
			if !actor.IsAgent() {
				return errors.Wrap(domain.ErrForbidden, "only agents approve a booking that was never selected")
			}
		case domain.BookingSelected:
			paid, err := isPaid(ctx, tx, b.ID)
			if err != nil {
				return err
			}
			if !paid && !(actor.IsAgent() && opts.AgentApproval) {
				if opts.PaymentConfirmed {
					return errors.Wrapf(domain.ErrInvalidTransition, "no paid transaction recorded for booking %d", b.ID)
				}
				return errors.Wrap(domain.ErrForbidden, "approval requires a confirmed payment or agent approval")
			}
		default:
			return errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", b.Status, domain.BookingApproved)
		}
		if err := checkSiblings(ctx, tx, b, true); err != nil {
			return err
		}
		return s.approve(ctx, tx, b, actor)
	})
}

func isPaid(ctx context.Context, tx domain.Tx, bookingID int64) (bool, error) {
	_, err := tx.PaidTransaction(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) approve(ctx context.Context, tx domain.Tx, b *domain.Booking, actor domain.Actor) error {
	from := b.Status
	now := s.now()
	b.Status = domain.BookingApproved
	b.ApprovedAt = &now
	b.UpdatedAt = now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return err
	}
	observability.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()
	return s.emit(ctx, tx, domain.EventBookingApproved, b, from, actor)
}

// ApprovePaid records a completed payment on a booking already locked by tx. It is the
// system-initiated approval used by the payment webhook and always succeeds for pending or
// selected bookings. An approved booking only gets its payment fields stamped.
func (s *Service) ApprovePaid(ctx context.Context, tx domain.Tx, b *domain.Booking, amount decimal.Decimal) error {
	if b.Status == domain.BookingRejected {
		return errors.Wrapf(domain.ErrInvalidTransition, "booking %d was rejected", b.ID)
	}
	b.PaymentStatus = domain.PaymentPaid
	b.FinalTotal = amount
	if b.Status == domain.BookingApproved {
		b.UpdatedAt = s.now()
		return tx.UpdateBooking(ctx, b)
	}
	return s.approve(ctx, tx, b, domain.System)
}

// Reject declines a booking. Pending and selected bookings may be rejected by the place owner
// or an agent; approved bookings by agents only.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, id int64, reason string) (*domain.Booking, error) {
	return s.transition(ctx, id, func(tx domain.Tx, place *domain.Place, b *domain.Booking) error {
		switch b.Status {
		case domain.BookingRejected:
			return nil
		case domain.BookingApproved:
			if !actor.IsAgent() {
				return errors.Wrap(domain.ErrForbidden, "only agents reject an approved booking")
			}
		default:
			if !canManage(actor, place) {
				return errors.Wrapf(domain.ErrForbidden, "user %s cannot reject booking %d", actor.UserID, id)
			}
		}

		from := b.Status
		now := s.now()
		b.Status = domain.BookingRejected
		b.RejectedAt = &now
		b.RejectReason = reason
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		observability.BookingTransitions.WithLabelValues(string(from), string(b.Status)).Inc()
		return s.emit(ctx, tx, domain.EventBookingRejected, b, from, actor)
	})
}

// MarkPaidToHost records that the payout for an approved booking reached the host.
func (s *Service) MarkPaidToHost(ctx context.Context, actor domain.Actor, id int64) (*domain.Booking, error) {
	if !actor.IsAgent() {
		return nil, errors.Wrap(domain.ErrForbidden, "only agents record host payouts")
	}
	return s.transition(ctx, id, func(tx domain.Tx, _ *domain.Place, b *domain.Booking) error {
		if b.Status != domain.BookingApproved {
			return errors.Wrapf(domain.ErrInvalidTransition, "booking %d is %s", b.ID, b.Status)
		}
		if b.PaidToHost {
			return nil
		}
		now := s.now()
		b.PaidToHost = true
		b.PaidToHostAt = &now
		b.UpdatedAt = now
		return tx.UpdateBooking(ctx, b)
	})
}
