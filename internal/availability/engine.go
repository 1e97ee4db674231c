// Package availability decides whether dates and time ranges at a place are free.
//
// Place calendar constraints are advisory filters; the authoritative conflict source is the
// set of approved bookings on the place. Pending and selected bookings never remove a slot
// from public availability.
package availability

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Reason names the rule that rejected a date.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonOutsideWindow  Reason = "outside_window"
	ReasonBlockedDate    Reason = "blocked_date"
	ReasonBlockedWeekday Reason = "blocked_weekday"
	ReasonOutsideHours   Reason = "outside_hours"
	ReasonBooked         Reason = "booked"
)

type Result struct {
	Available bool
	Date      civil.Date
	Reason    Reason
	Conflict  int64
}

// BookingSource yields bookings on a place filtered by status.
type BookingSource interface {
	ListPlaceBookings(ctx context.Context, placeID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error)
}

type Filters struct {
	Dates []civil.Date
	Range *domain.TimeRange
}

type Engine struct {
	bookings    BookingSource
	concurrency int
}

func NewEngine(bookings BookingSource) *Engine {
	return &Engine{bookings: bookings, concurrency: 8}
}

// IsAvailable reports whether every requested date (and time range, when given) is free.
func (e *Engine) IsAvailable(ctx context.Context, place *domain.Place, dates []civil.Date, tr *domain.TimeRange) (bool, error) {
	res, err := e.Check(ctx, place, dates, tr)
	if err != nil {
		return false, err
	}
	return res.Available, nil
}

// Check is IsAvailable with the first failing date and rule reported.
func (e *Engine) Check(ctx context.Context, place *domain.Place, dates []civil.Date, tr *domain.TimeRange) (Result, error) {
	if len(dates) == 0 {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "no dates requested")
	}
	if tr != nil && !tr.Valid() {
		return Result{}, errors.Wrap(domain.ErrInvalidInput, "end time must be after start time")
	}

	for _, d := range dates {
		if r := CheckConstraints(place, d, tr); r != ReasonNone {
			return Result{Date: d, Reason: r}, nil
		}
	}

	approved, err := e.bookings.ListPlaceBookings(ctx, place.ID, domain.BookingApproved)
	if err != nil {
		return Result{}, errors.Wrapf(err, "list approved bookings for place %d", place.ID)
	}
	return CheckBookings(approved, dates, tr), nil
}

// CheckConstraints applies the calendar rules of place to a single date, in order.
func CheckConstraints(place *domain.Place, d civil.Date, tr *domain.TimeRange) Reason {
	if d.Before(place.StartDate) || d.After(place.EndDate) {
		return ReasonOutsideWindow
	}
	if _, ok := place.BlockedDates[d]; ok {
		return ReasonBlockedDate
	}
	wd := domain.Weekday(d)
	if _, ok := place.BlockedWeekdays[wd]; ok {
		return ReasonBlockedWeekday
	}
	if tr == nil {
		return ReasonNone
	}
	if hours, ok := place.WeekdayTimeSlots[wd]; ok {
		if !tr.Within(hours) {
			return ReasonOutsideHours
		}
		return ReasonNone
	}
	if place.CheckIn != nil && place.CheckOut != nil && *place.CheckIn < *place.CheckOut {
		if !tr.Within(domain.OpenHours{Open: *place.CheckIn, Close: *place.CheckOut}) {
			return ReasonOutsideHours
		}
	}
	return ReasonNone
}

// CheckBookings finds the first date blocked by one of the given approved bookings.
func CheckBookings(approved []domain.Booking, dates []civil.Date, tr *domain.TimeRange) Result {
	for _, d := range dates {
		for i := range approved {
			if approved[i].ConflictsWith(d, tr) {
				return Result{Date: d, Reason: ReasonBooked, Conflict: approved[i].ID}
			}
		}
	}
	return Result{Available: true}
}

// FilterAvailable returns the ids of places free for filters, keeping the input order.
func (e *Engine) FilterAvailable(ctx context.Context, places []domain.Place, filters Filters) ([]int64, error) {
	free := make([]bool, len(places))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range places {
		i := i
		g.Go(func() error {
			ok, err := e.IsAvailable(gctx, &places[i], filters.Dates, filters.Range)
			if err != nil {
				return err
			}
			free[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(places))
	for i, ok := range free {
		if ok {
			ids = append(ids, places[i].ID)
		}
	}
	return ids, nil
}
