package mongo

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PlaceCatalog reads listings and their calendar rules from the places collection.
type PlaceCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewPlaceCatalog(db *mongo.Database, logger observability.Logger) *PlaceCatalog {
	return &PlaceCatalog{
		coll:   db.Collection("places"),
		logger: logger,
	}
}

type HoursDoc struct {
	Open  string `bson:"open"`
	Close string `bson:"close"`
}

// PlaceDoc dates are YYYY-MM-DD and clock times HH:MM. Weekday keys are lower-case English
// names ("monday").
type PlaceDoc struct {
	ID               int64               `bson:"_id"`
	OwnerID          string              `bson:"owner_id"`
	StartDate        string              `bson:"start_date"`
	EndDate          string              `bson:"end_date"`
	BlockedDates     []string            `bson:"blocked_dates,omitempty"`
	BlockedWeekdays  []string            `bson:"blocked_weekdays,omitempty"`
	WeekdayTimeSlots map[string]HoursDoc `bson:"weekday_time_slots,omitempty"`
	CheckIn          string              `bson:"check_in,omitempty"`
	CheckOut         string              `bson:"check_out,omitempty"`
	MinimumHours     int                 `bson:"minimum_hours,omitempty"`
	UpdatedAt        time.Time           `bson:"updated_at"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, errors.Wrapf(domain.ErrInvalidInput, "unknown weekday %q", s)
	}
	return wd, nil
}

// ToPlace converts the stored document into the domain listing.
func (d *PlaceDoc) ToPlace() (*domain.Place, error) {
	p := &domain.Place{
		ID:           d.ID,
		OwnerID:      d.OwnerID,
		MinimumHours: d.MinimumHours,
	}
	var err error
	if p.StartDate, err = civil.ParseDate(d.StartDate); err != nil {
		return nil, errors.Wrapf(err, "place %d start_date", d.ID)
	}
	if p.EndDate, err = civil.ParseDate(d.EndDate); err != nil {
		return nil, errors.Wrapf(err, "place %d end_date", d.ID)
	}

	if len(d.BlockedDates) > 0 {
		p.BlockedDates = make(map[civil.Date]struct{}, len(d.BlockedDates))
		for _, s := range d.BlockedDates {
			day, err := civil.ParseDate(s)
			if err != nil {
				return nil, errors.Wrapf(err, "place %d blocked date", d.ID)
			}
			p.BlockedDates[day] = struct{}{}
		}
	}
	if len(d.BlockedWeekdays) > 0 {
		p.BlockedWeekdays = make(map[time.Weekday]struct{}, len(d.BlockedWeekdays))
		for _, s := range d.BlockedWeekdays {
			wd, err := parseWeekday(s)
			if err != nil {
				return nil, err
			}
			p.BlockedWeekdays[wd] = struct{}{}
		}
	}
	if len(d.WeekdayTimeSlots) > 0 {
		p.WeekdayTimeSlots = make(map[time.Weekday]domain.OpenHours, len(d.WeekdayTimeSlots))
		for name, h := range d.WeekdayTimeSlots {
			wd, err := parseWeekday(name)
			if err != nil {
				return nil, err
			}
			open, err := domain.ParseClock(h.Open)
			if err != nil {
				return nil, err
			}
			closing, err := domain.ParseClock(h.Close)
			if err != nil {
				return nil, err
			}
			p.WeekdayTimeSlots[wd] = domain.OpenHours{Open: open, Close: closing}
		}
	}
	if d.CheckIn != "" && d.CheckOut != "" {
		in, err := domain.ParseClock(d.CheckIn)
		if err != nil {
			return nil, err
		}
		out, err := domain.ParseClock(d.CheckOut)
		if err != nil {
			return nil, err
		}
		p.CheckIn, p.CheckOut = &in, &out
	}
	return p, nil
}

func (c *PlaceCatalog) GetPlace(ctx context.Context, id int64) (*domain.Place, error) {
	var doc PlaceDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(domain.ErrNotFound, "place %d", id)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get place")
		return nil, err
	}
	return doc.ToPlace()
}

// ListPlaces returns the listings with the given ids; unknown ids are skipped.
func (c *PlaceCatalog) ListPlaces(ctx context.Context, ids []int64) ([]domain.Place, error) {
	cur, err := c.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []PlaceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	places := make([]domain.Place, 0, len(docs))
	for i := range docs {
		p, err := docs[i].ToPlace()
		if err != nil {
			return nil, err
		}
		places = append(places, *p)
	}
	return places, nil
}

// UpsertPlace stores doc, replacing any listing with the same id.
func (c *PlaceCatalog) UpsertPlace(ctx context.Context, doc PlaceDoc) error {
	if _, err := doc.ToPlace(); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert place")
		return err
	}
	return nil
}
