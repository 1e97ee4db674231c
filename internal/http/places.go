package http

import (
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type availabilityRequest struct {
	PlaceIDs  []int64       `json:"placeIds,omitempty"`
	Dates     []civil.Date  `json:"dates"`
	StartTime *domain.Clock `json:"startTime"`
	EndTime   *domain.Clock `json:"endTime"`
}

type availabilityResponse struct {
	PlaceID   int64               `json:"placeId"`
	Available bool                `json:"available"`
	Date      *civil.Date         `json:"date,omitempty"`
	Reason    availability.Reason `json:"reason,omitempty"`
	Conflict  int64               `json:"conflictBookingId,omitempty"`
}

func (req *availabilityRequest) timeRange() (*domain.TimeRange, error) {
	switch {
	case req.StartTime == nil && req.EndTime == nil:
		return nil, nil
	case req.StartTime == nil || req.EndTime == nil:
		return nil, errors.Wrap(domain.ErrInvalidInput, "startTime and endTime go together")
	}
	return &domain.TimeRange{Start: *req.StartTime, End: *req.EndTime}, nil
}

func (h *Handlers) PlaceAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	tr, err := req.timeRange()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	place, err := h.catalog.GetPlace(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.engine.Check(r.Context(), place, req.Dates, tr)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := availabilityResponse{PlaceID: id, Available: res.Available, Reason: res.Reason, Conflict: res.Conflict}
	if !res.Available {
		out.Date = &res.Date
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) FilterAvailable(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if len(req.PlaceIDs) == 0 {
		writeError(w, r, h.logger, errors.Wrap(domain.ErrInvalidInput, "placeIds is required"))
		return
	}
	tr, err := req.timeRange()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	places, err := h.catalog.ListPlaces(r.Context(), req.PlaceIDs)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ids, err := h.engine.FilterAvailable(r.Context(), places, availability.Filters{Dates: req.Dates, Range: tr})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"placeIds": ids})
}
