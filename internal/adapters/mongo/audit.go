package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PaymentAuditLog appends every gateway callback to the payment_events collection.
// Documents are never updated.
type PaymentAuditLog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewPaymentAuditLog(db *mongo.Database, logger observability.Logger) *PaymentAuditLog {
	return &PaymentAuditLog{
		coll:   db.Collection("payment_events"),
		logger: logger,
	}
}

type PaymentEventDoc struct {
	ID           string            `bson:"_id"`
	BookingID    int64             `bson:"booking_id"`
	RequestID    string            `bson:"request_id"`
	Action       string            `bson:"action"`
	ClickTransID int64             `bson:"click_trans_id"`
	Code         int               `bson:"code"`
	Note         string            `bson:"note"`
	Payload      map[string]string `bson:"payload"`
	At           time.Time         `bson:"at"`
}

func (a *PaymentAuditLog) Append(ctx context.Context, ev domain.PaymentEvent) error {
	doc := PaymentEventDoc{
		ID:           uuid.NewString(),
		BookingID:    ev.BookingID,
		RequestID:    ev.RequestID,
		Action:       ev.Action,
		ClickTransID: ev.ClickTransID,
		Code:         ev.Code,
		Note:         ev.Note,
		Payload:      ev.Payload,
		At:           ev.At,
	}
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		a.logger.WithError(err).Error("failed to insert payment event")
		return err
	}
	return nil
}

// History returns the callbacks recorded for a booking, oldest first.
func (a *PaymentAuditLog) History(ctx context.Context, bookingID int64) ([]domain.PaymentEvent, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.D{{Key: "at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []PaymentEventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]domain.PaymentEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.PaymentEvent{
			BookingID:    d.BookingID,
			RequestID:    d.RequestID,
			Action:       d.Action,
			ClickTransID: d.ClickTransID,
			Code:         d.Code,
			Note:         d.Note,
			Payload:      d.Payload,
			At:           d.At,
		})
	}
	return out, nil
}
