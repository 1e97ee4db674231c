package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/adapters/memory"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	host   = domain.Actor{UserID: "host-1", Role: domain.RoleHost}
	agent  = domain.Actor{UserID: "agent-1", Role: domain.RoleAgent}
	client = domain.Actor{UserID: "client-1", Role: domain.RoleClient}
	other  = domain.Actor{UserID: "client-2", Role: domain.RoleClient}
)

func date(y int, m time.Month, d int) civil.Date { return civil.Date{Year: y, Month: m, Day: d} }

func slot(t *testing.T, d civil.Date, start, end string) domain.TimeSlot {
	t.Helper()
	s, err := domain.ParseClock(start)
	require.NoError(t, err)
	e, err := domain.ParseClock(end)
	require.NoError(t, err)
	return domain.TimeSlot{Date: d, StartTime: s, EndTime: e}
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.AddPlace(domain.Place{
		ID:           1,
		OwnerID:      host.UserID,
		StartDate:    date(2025, 6, 1),
		EndDate:      date(2025, 8, 31),
		MinimumHours: 2,
	})
	svc := NewService(store, store, availability.NewEngine(store), observability.NewNopLogger())
	return svc, store
}

func create(t *testing.T, svc *Service, actor domain.Actor, slots ...domain.TimeSlot) *domain.Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), actor, CreateInput{
		PlaceID:    1,
		TimeSlots:  slots,
		TotalPrice: decimal.RequireFromString("150000"),
	})
	require.NoError(t, err)
	return b
}

func markPaid(t *testing.T, store *memory.Store, bookingID int64) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.CreateTransaction(context.Background(), &domain.Transaction{
			ClickTransID: bookingID * 100,
			BookingID:    bookingID,
			PrepareID:    bookingID,
			State:        domain.TxPaid,
			Amount:       decimal.RequireFromString("150000"),
			CreateDate:   time.Now().UTC(),
		})
	}))
}

func TestCreate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 1)

	b := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	assert.Equal(t, domain.BookingPending, b.Status)
	assert.Equal(t, domain.PaymentUnpaid, b.PaymentStatus)
	assert.Regexp(t, `^BK-[0-9A-F]{12}$`, b.UniqueRequestID)
	assert.Equal(t, day, b.CheckInDate)
	assert.Equal(t, day, b.CheckOutDate)

	out := store.Outbox()
	require.Len(t, out, 1)
	assert.Equal(t, domain.EventBookingCreated, out[0].EventType)

	_, err := svc.Create(ctx, client, CreateInput{PlaceID: 1, TimeSlots: []domain.TimeSlot{slot(t, day, "10:00", "11:00")}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "shorter than minimum hours")

	_, err = svc.Create(ctx, client, CreateInput{PlaceID: 1, TimeSlots: []domain.TimeSlot{slot(t, date(2025, 9, 2), "10:00", "13:00")}})
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable, "outside the listing window")

	_, err = svc.Create(ctx, client, CreateInput{PlaceID: 1, CheckInDate: date(2025, 7, 5), CheckOutDate: date(2025, 7, 3)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Create(ctx, client, CreateInput{PlaceID: 99, TimeSlots: []domain.TimeSlot{slot(t, day, "10:00", "13:00")}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreate_RetriesRequestIDCollision(t *testing.T) {
	svc, _ := newService(t)
	ids := []string{"BK-000000000001", "BK-000000000001", "BK-000000000002"}
	svc.newRequestID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := create(t, svc, client, slot(t, date(2025, 7, 1), "10:00", "13:00"))
	second := create(t, svc, other, slot(t, date(2025, 7, 1), "10:00", "13:00"))
	assert.Equal(t, "BK-000000000001", first.UniqueRequestID)
	assert.Equal(t, "BK-000000000002", second.UniqueRequestID)
}

func TestCreate_ApprovedSlotIsUnavailable(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 1)

	b := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	_, err := svc.Approve(ctx, agent, b.ID, ApproveOptions{AgentApproval: true})
	require.NoError(t, err)

	_, err = svc.Create(ctx, other, CreateInput{PlaceID: 1, TimeSlots: []domain.TimeSlot{slot(t, day, "12:00", "15:00")}})
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)

	adjacent := create(t, svc, other, slot(t, day, "13:00", "15:00"))
	assert.Equal(t, domain.BookingPending, adjacent.Status)
}

func TestGetAndCompeting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 1)

	a := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	b := create(t, svc, other, slot(t, day, "12:00", "14:00"))
	create(t, svc, other, slot(t, day, "15:00", "18:00"))

	_, err := svc.Get(ctx, other, a.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := svc.Get(ctx, host, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.UniqueRequestID, got.UniqueRequestID)

	competing, err := svc.Competing(ctx, host, a.ID)
	require.NoError(t, err)
	require.Len(t, competing, 1)
	assert.Equal(t, b.ID, competing[0].ID)
}

func TestSelect(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 1)

	a := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	b := create(t, svc, other, slot(t, day, "12:00", "14:00"))

	_, err := svc.Select(ctx, client, a.ID, nil)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	final := decimal.RequireFromString("120000")
	sel, err := svc.Select(ctx, host, a.ID, &final)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingSelected, sel.Status)
	assert.True(t, final.Equal(sel.FinalTotal))

	_, err = svc.Select(ctx, host, b.ID, nil)
	assert.ErrorIs(t, err, domain.ErrSlotContested)

	again, err := svc.Select(ctx, host, a.ID, nil)
	require.NoError(t, err, "reselecting is a no-op")
	assert.True(t, final.Equal(again.FinalTotal))

	stored, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status)
}

func TestSelect_ConcurrentOverlapsSelectOnce(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 2)

	var ids []int64
	for i := 0; i < 8; i++ {
		ids = append(ids, create(t, svc, client, slot(t, day, "09:00", "12:00")).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		selected  int
		contested int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.Select(ctx, host, id, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				selected++
			case errors.Is(err, domain.ErrSlotContested):
				contested++
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, selected)
	assert.Equal(t, len(ids)-1, contested)

	list, err := store.ListPlaceBookings(ctx, 1, domain.BookingSelected)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApprove(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 3)

	b := create(t, svc, client, slot(t, day, "10:00", "13:00"))

	_, err := svc.Approve(ctx, host, b.ID, ApproveOptions{PaymentConfirmed: true})
	assert.ErrorIs(t, err, domain.ErrForbidden, "pending needs an agent")

	_, err = svc.Select(ctx, host, b.ID, nil)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, host, b.ID, ApproveOptions{PaymentConfirmed: true})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "claimed payment is verified against the ledger")

	_, err = svc.Approve(ctx, host, b.ID, ApproveOptions{AgentApproval: true})
	assert.ErrorIs(t, err, domain.ErrForbidden, "hosts cannot override payment")

	markPaid(t, store, b.ID)
	approved, err := svc.Approve(ctx, host, b.ID, ApproveOptions{PaymentConfirmed: true})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
}

func TestApprove_OverlappingApprovalFailsClosed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 3)

	a := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	b := create(t, svc, other, slot(t, day, "11:00", "14:00"))

	_, err := svc.Approve(ctx, agent, a.ID, ApproveOptions{AgentApproval: true})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, agent, b.ID, ApproveOptions{AgentApproval: true})
	assert.ErrorIs(t, err, domain.ErrSlotUnavailable)
}

func TestApprove_SelectedSiblingBlocksAgentApproval(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 3)

	a := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	b := create(t, svc, other, slot(t, day, "11:00", "14:00"))

	_, err := svc.Select(ctx, host, a.ID, nil)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, agent, b.ID, ApproveOptions{AgentApproval: true})
	assert.ErrorIs(t, err, domain.ErrSlotContested)

	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		locked, err := tx.GetBookingForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		return svc.ApprovePaid(ctx, tx, locked, decimal.RequireFromString("150000"))
	}))

	approved, err := store.ListPlaceBookings(ctx, 1, domain.BookingApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a.ID, approved[0].ID)

	stored, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingPending, stored.Status)
}

func TestApprovePaid(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	b := create(t, svc, client, slot(t, date(2025, 7, 4), "10:00", "13:00"))
	_, err := svc.Select(ctx, host, b.ID, nil)
	require.NoError(t, err)

	amount := decimal.RequireFromString("150000.00")
	require.NoError(t, store.WithTx(ctx, func(tx domain.Tx) error {
		locked, err := tx.GetBookingForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		return svc.ApprovePaid(ctx, tx, locked, amount)
	}))

	got, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingApproved, got.Status)
	assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
	assert.True(t, amount.Equal(got.FinalTotal))

	_, err = svc.Reject(ctx, agent, b.ID, "duplicate")
	require.NoError(t, err)
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		locked, err := tx.GetBookingForUpdate(ctx, b.ID)
		if err != nil {
			return err
		}
		return svc.ApprovePaid(ctx, tx, locked, amount)
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReject(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	day := date(2025, 7, 7)

	a := create(t, svc, client, slot(t, day, "10:00", "13:00"))
	_, err := svc.Reject(ctx, client, a.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	rejected, err := svc.Reject(ctx, host, a.ID, "changed plans")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingRejected, rejected.Status)
	assert.Equal(t, "changed plans", rejected.RejectReason)

	b := create(t, svc, client, slot(t, day, "14:00", "17:00"))
	_, err = svc.Approve(ctx, agent, b.ID, ApproveOptions{AgentApproval: true})
	require.NoError(t, err)
	_, err = svc.Reject(ctx, host, b.ID, "")
	assert.ErrorIs(t, err, domain.ErrForbidden, "approved bookings are rejected by agents only")
	_, err = svc.Reject(ctx, agent, b.ID, "venue closed")
	require.NoError(t, err)

	_, err = svc.Select(ctx, host, b.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateStatusAndPaidToHost(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	b := create(t, svc, client, slot(t, date(2025, 7, 8), "10:00", "13:00"))
	_, err := svc.UpdateStatus(ctx, host, b.ID, UpdateInput{Status: domain.BookingPending})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = svc.UpdateStatus(ctx, host, b.ID, UpdateInput{Status: "archived"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.MarkPaidToHost(ctx, agent, b.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, agent, b.ID, UpdateInput{Status: domain.BookingApproved, AgentApproval: true})
	require.NoError(t, err)

	_, err = svc.MarkPaidToHost(ctx, host, b.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	paid, err := svc.MarkPaidToHost(ctx, agent, b.ID)
	require.NoError(t, err)
	assert.True(t, paid.PaidToHost)
	require.NotNil(t, paid.PaidToHostAt)
}
