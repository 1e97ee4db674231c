// Package booking owns the booking state machine:
//
//	pending  --select-->  selected   (place owner or agent; no overlapping sibling may be selected)
//	pending  --approve--> approved   (agent only)
//	selected --approve--> approved   (verified payment, or agent override)
//	pending|selected --reject--> rejected
//	approved --reject--> rejected    (agent only)
//
// Every transition reads the contested bookings and writes the new status inside one
// store transaction holding the place lock.
package booking

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/shopspring/decimal"
)

const requestIDAttempts = 3

type Service struct {
	store        domain.Store
	places       domain.PlaceReader
	engine       *availability.Engine
	logger       observability.Logger
	now          func() time.Time
	newRequestID func() string
}

func NewService(store domain.Store, places domain.PlaceReader, engine *availability.Engine, logger observability.Logger) *Service {
	return &Service{
		store:        store,
		places:       places,
		engine:       engine,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		newRequestID: NewRequestID,
	}
}

// NewRequestID returns a shareable gateway correlation token such as BK-3F9A0C21D4E7.
func NewRequestID() string {
	id := uuid.New()
	return "BK-" + strings.ToUpper(hex.EncodeToString(id[:6]))
}

type CreateInput struct {
	PlaceID      int64
	TimeSlots    []domain.TimeSlot
	CheckInDate  civil.Date
	CheckOutDate civil.Date
	TotalPrice   decimal.Decimal
}

func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (*domain.Booking, error) {
	place, err := s.places.GetPlace(ctx, in.PlaceID)
	if err != nil {
		return nil, err
	}

	b := &domain.Booking{
		PlaceID:       in.PlaceID,
		UserID:        actor.UserID,
		TimeSlots:     in.TimeSlots,
		CheckInDate:   in.CheckInDate,
		CheckOutDate:  in.CheckOutDate,
		Status:        domain.BookingPending,
		TotalPrice:    in.TotalPrice,
		PaymentStatus: domain.PaymentUnpaid,
	}
	if err := validate(b, place); err != nil {
		return nil, err
	}
	if !b.FullDay() {
		b.CheckInDate, b.CheckOutDate = spanOf(b.TimeSlots)
	}
	if err := s.checkAvailable(ctx, place, b); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		now := s.now()
		b.UniqueRequestID = s.newRequestID()
		b.CreatedAt, b.UpdatedAt = now, now

		err = s.store.WithTx(ctx, func(tx domain.Tx) error {
			if err := tx.CreateBooking(ctx, b); err != nil {
				return err
			}
			return s.emit(ctx, tx, domain.EventBookingCreated, b, "", actor)
		})
		if errors.Is(err, domain.ErrConflict) && attempt < requestIDAttempts {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "create booking")
		}
		return b, nil
	}
}

func validate(b *domain.Booking, place *domain.Place) error {
	if b.TotalPrice.IsNegative() {
		return errors.Wrap(domain.ErrInvalidInput, "total price must not be negative")
	}
	if b.FullDay() {
		if b.CheckInDate == (civil.Date{}) || b.CheckOutDate == (civil.Date{}) {
			return errors.Wrap(domain.ErrInvalidInput, "full-day booking needs check-in and check-out dates")
		}
		if !b.CheckInDate.IsValid() || !b.CheckOutDate.IsValid() || b.CheckOutDate.Before(b.CheckInDate) {
			return errors.Wrap(domain.ErrInvalidInput, "check-out date must not precede check-in date")
		}
		return nil
	}
	for _, slot := range b.TimeSlots {
		if !slot.Date.IsValid() {
			return errors.Wrapf(domain.ErrInvalidInput, "invalid slot date %s", slot.Date)
		}
		r := slot.Range()
		if !r.Valid() {
			return errors.Wrapf(domain.ErrInvalidInput, "slot on %s ends before it starts", slot.Date)
		}
		if place.MinimumHours > 0 && r.Duration() < time.Duration(place.MinimumHours)*time.Hour {
			return errors.Wrapf(domain.ErrInvalidInput, "slot on %s is shorter than %d hours", slot.Date, place.MinimumHours)
		}
	}
	return nil
}

func spanOf(slots []domain.TimeSlot) (civil.Date, civil.Date) {
	from, to := slots[0].Date, slots[0].Date
	for _, s := range slots[1:] {
		if s.Date.Before(from) {
			from = s.Date
		}
		if s.Date.After(to) {
			to = s.Date
		}
	}
	return from, to
}

func (s *Service) checkAvailable(ctx context.Context, place *domain.Place, b *domain.Booking) error {
	if b.FullDay() {
		res, err := s.engine.Check(ctx, place, b.Dates(), nil)
		if err != nil {
			return err
		}
		if !res.Available {
			return errors.Wrapf(domain.ErrSlotUnavailable, "%s: %s", res.Date, res.Reason)
		}
		return nil
	}
	for _, slot := range b.TimeSlots {
		r := slot.Range()
		res, err := s.engine.Check(ctx, place, []civil.Date{slot.Date}, &r)
		if err != nil {
			return err
		}
		if !res.Available {
			return errors.Wrapf(domain.ErrSlotUnavailable, "%s %s-%s: %s", slot.Date, slot.StartTime, slot.EndTime, res.Reason)
		}
	}
	return nil
}

// Get returns the booking if actor is its requester, the place owner or an agent.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	place, err := s.places.GetPlace(ctx, b.PlaceID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, place, b) {
		return nil, errors.Wrapf(domain.ErrForbidden, "booking %d", id)
	}
	return b, nil
}

// Competing lists other pending or selected bookings on the same place whose slots overlap id.
func (s *Service) Competing(ctx context.Context, actor domain.Actor, id int64) ([]domain.Booking, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	contending, err := s.store.ListPlaceBookings(ctx, b.PlaceID, domain.BookingPending, domain.BookingSelected)
	if err != nil {
		return nil, err
	}
	return Competing(contending, b), nil
}

// Competing filters candidates down to the bookings that overlap b, excluding b itself.
func Competing(candidates []domain.Booking, b *domain.Booking) []domain.Booking {
	out := make([]domain.Booking, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ID == b.ID || c.PlaceID != b.PlaceID {
			continue
		}
		if c.Overlaps(b) {
			out = append(out, *c)
		}
	}
	return out
}

func canView(actor domain.Actor, place *domain.Place, b *domain.Booking) bool {
	return actor.IsAgent() || actor.UserID == b.UserID || actor.UserID == place.OwnerID
}

func canManage(actor domain.Actor, place *domain.Place) bool {
	return actor.IsAgent() || actor.UserID == place.OwnerID
}

func (s *Service) emit(ctx context.Context, tx domain.Tx, event string, b *domain.Booking, from domain.BookingStatus, actor domain.Actor) error {
	rec, err := domain.NewOutboxRecord("booking", strconv.FormatInt(b.ID, 10), event, domain.BookingEvent{
		BookingID: b.ID,
		PlaceID:   b.PlaceID,
		UserID:    b.UserID,
		From:      from,
		Status:    b.Status,
		ActorID:   actor.UserID,
	})
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, rec)
}
