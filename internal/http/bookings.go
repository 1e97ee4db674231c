package http

import (
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/shopspring/decimal"
)

type createBookingRequest struct {
	PlaceID      int64             `json:"placeId"`
	TimeSlots    []domain.TimeSlot `json:"timeSlots"`
	CheckInDate  *civil.Date       `json:"checkInDate"`
	CheckOutDate *civil.Date       `json:"checkOutDate"`
	TotalPrice   decimal.Decimal   `json:"totalPrice"`
}

type updateBookingRequest struct {
	Status           domain.BookingStatus `json:"status"`
	PaymentConfirmed bool                 `json:"paymentConfirmed"`
	AgentApproval    bool                 `json:"agentApproval"`
	FinalTotal       *decimal.Decimal     `json:"finalTotal"`
	Reason           string               `json:"reason"`
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(domain.ErrInvalidInput, "invalid %s", name)
	}
	return id, nil
}

func mustActor(r *http.Request) domain.Actor {
	a, _ := ActorFromContext(r.Context())
	return a
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	in := booking.CreateInput{PlaceID: req.PlaceID, TimeSlots: req.TimeSlots, TotalPrice: req.TotalPrice}
	if req.CheckInDate != nil {
		in.CheckInDate = *req.CheckInDate
	}
	if req.CheckOutDate != nil {
		in.CheckOutDate = *req.CheckOutDate
	}

	b, err := h.bookings.Create(r.Context(), mustActor(r), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.bookings.Get(r.Context(), mustActor(r), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req updateBookingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	b, err := h.bookings.UpdateStatus(r.Context(), mustActor(r), id, booking.UpdateInput{
		Status:           req.Status,
		FinalTotal:       req.FinalTotal,
		PaymentConfirmed: req.PaymentConfirmed,
		AgentApproval:    req.AgentApproval,
		Reason:           req.Reason,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) CompetingBookings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	list, err := h.bookings.Competing(r.Context(), mustActor(r), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": list})
}

func (h *Handlers) PaidToHost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.bookings.MarkPaidToHost(r.Context(), mustActor(r), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) CheckPaymentSmart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := h.payments.SmartCheck(r.Context(), mustActor(r), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PaymentEvents lists the gateway callbacks recorded for a booking. Agents only.
func (h *Handlers) PaymentEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !mustActor(r).IsAgent() {
		writeError(w, r, h.logger, errors.Wrap(domain.ErrForbidden, "agents only"))
		return
	}
	events, err := h.audit.History(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.PaymentEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
