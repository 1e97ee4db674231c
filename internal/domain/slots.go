package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
)

// Clock is a wall-clock time of day in minutes after midnight. 24:00 is allowed as an end bound.
type Clock int

const EndOfDay Clock = 24 * 60

func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, errors.Wrapf(ErrInvalidInput, "bad time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "bad time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidInput, "bad time %q", s)
	}
	c := Clock(h*60 + m)
	if h < 0 || m < 0 || m > 59 || c > EndOfDay {
		return 0, errors.Wrapf(ErrInvalidInput, "bad time %q", s)
	}
	return c, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// TimeRange is the half-open interval [Start, End).
type TimeRange struct {
	Start Clock
	End   Clock
}

func (r TimeRange) Valid() bool { return r.Start < r.End }

func (r TimeRange) Overlaps(o TimeRange) bool { return r.Start < o.End && r.End > o.Start }

func (r TimeRange) Within(h OpenHours) bool { return r.Start >= h.Open && r.End <= h.Close }

func (r TimeRange) Duration() time.Duration { return time.Duration(r.End-r.Start) * time.Minute }

func Weekday(d civil.Date) time.Weekday { return d.In(time.UTC).Weekday() }

// DateInSpan reports whether d lies in the closed span [from, to].
func DateInSpan(d, from, to civil.Date) bool { return !d.Before(from) && !d.After(to) }

// ConflictsWith reports whether b occupies date, or the time range on it when tr is set.
// A full-day booking occupies every date of its span regardless of tr.
func (b *Booking) ConflictsWith(date civil.Date, tr *TimeRange) bool {
	if b.FullDay() {
		return DateInSpan(date, b.CheckInDate, b.CheckOutDate)
	}
	if tr == nil {
		return false
	}
	for _, s := range b.TimeSlots {
		if s.Date == date && s.Range().Overlaps(*tr) {
			return true
		}
	}
	return false
}

// Overlaps is the competing-booking rule between two bookings on the same place.
func (b *Booking) Overlaps(o *Booking) bool {
	switch {
	case b.FullDay() && o.FullDay():
		return !b.CheckInDate.After(o.CheckOutDate) && !o.CheckInDate.After(b.CheckOutDate)
	case b.FullDay():
		return o.touchesSpan(b.CheckInDate, b.CheckOutDate)
	case o.FullDay():
		return b.touchesSpan(o.CheckInDate, o.CheckOutDate)
	}
	for _, s := range b.TimeSlots {
		for _, t := range o.TimeSlots {
			if s.Date == t.Date && s.Range().Overlaps(t.Range()) {
				return true
			}
		}
	}
	return false
}

func (b *Booking) touchesSpan(from, to civil.Date) bool {
	for _, s := range b.TimeSlots {
		if DateInSpan(s.Date, from, to) {
			return true
		}
	}
	return false
}

// Dates lists the calendar dates the booking touches, in order and without duplicates.
func (b *Booking) Dates() []civil.Date {
	if b.FullDay() {
		var out []civil.Date
		for d := b.CheckInDate; !d.After(b.CheckOutDate); d = d.AddDays(1) {
			out = append(out, d)
		}
		return out
	}
	seen := make(map[civil.Date]struct{}, len(b.TimeSlots))
	var out []civil.Date
	for _, s := range b.TimeSlots {
		if _, ok := seen[s.Date]; ok {
			continue
		}
		seen[s.Date] = struct{}{}
		out = append(out, s.Date)
	}
	return out
}
