package mongo

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func hallDoc() PlaceDoc {
	return PlaceDoc{
		ID:              7,
		OwnerID:         "host-1",
		StartDate:       "2025-06-01",
		EndDate:         "2025-08-31",
		BlockedDates:    []string{"2025-07-04"},
		BlockedWeekdays: []string{"Sunday"},
		WeekdayTimeSlots: map[string]HoursDoc{
			"monday": {Open: "09:00", Close: "18:00"},
		},
		CheckIn:      "14:00",
		CheckOut:     "11:00",
		MinimumHours: 2,
	}
}

func TestPlaceDoc_ToPlace(t *testing.T) {
	doc := hallDoc()
	p, err := doc.ToPlace()
	require.NoError(t, err)

	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, civil.Date{Year: 2025, Month: time.June, Day: 1}, p.StartDate)
	assert.Contains(t, p.BlockedDates, civil.Date{Year: 2025, Month: time.July, Day: 4})
	assert.Contains(t, p.BlockedWeekdays, time.Sunday)
	require.Contains(t, p.WeekdayTimeSlots, time.Monday)
	assert.Equal(t, "09:00", p.WeekdayTimeSlots[time.Monday].Open.String())
	require.NotNil(t, p.CheckIn)
	assert.Equal(t, "14:00", p.CheckIn.String())
	assert.Equal(t, 2, p.MinimumHours)
}

func TestPlaceDoc_ToPlaceRejectsBadValues(t *testing.T) {
	doc := hallDoc()
	doc.BlockedWeekdays = []string{"someday"}
	_, err := doc.ToPlace()
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	doc = hallDoc()
	doc.EndDate = "31/08/2025"
	_, err = doc.ToPlace()
	assert.Error(t, err)
}

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("venue_test")
}

func TestPlaceCatalog_Mongo(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	catalog := NewPlaceCatalog(db, observability.NewNopLogger())

	require.NoError(t, catalog.UpsertPlace(ctx, hallDoc()))
	second := hallDoc()
	second.ID = 8
	require.NoError(t, catalog.UpsertPlace(ctx, second))

	p, err := catalog.GetPlace(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "host-1", p.OwnerID)

	_, err = catalog.GetPlace(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	places, err := catalog.ListPlaces(ctx, []int64{8, 7, 99})
	require.NoError(t, err)
	require.Len(t, places, 2)
	assert.Equal(t, int64(7), places[0].ID)
}

func TestPaymentAuditLog_Mongo(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	audit := NewPaymentAuditLog(db, observability.NewNopLogger())

	at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, audit.Append(ctx, domain.PaymentEvent{BookingID: 1, Action: "complete", Code: 0, At: at.Add(time.Minute)}))
	require.NoError(t, audit.Append(ctx, domain.PaymentEvent{BookingID: 1, Action: "prepare", Code: 0, At: at,
		Payload: map[string]string{"click_trans_id": "9001"}}))
	require.NoError(t, audit.Append(ctx, domain.PaymentEvent{BookingID: 2, Action: "prepare", Code: -1, At: at}))

	events, err := audit.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "prepare", events[0].Action)
	assert.Equal(t, "9001", events[0].Payload["click_trans_id"])
	assert.Equal(t, "complete", events[1].Action)
}
