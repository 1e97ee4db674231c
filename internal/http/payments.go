package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
)

type createInvoiceRequest struct {
	BookingID int64  `json:"bookingId"`
	UserPhone string `json:"userPhone"`
}

func (h *Handlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	inv, err := h.payments.CreateInvoice(r.Context(), mustActor(r), req.BookingID, strings.TrimSpace(req.UserPhone))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingId")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	st, err := h.payments.Status(r.Context(), mustActor(r), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) ClickPrepare(w http.ResponseWriter, r *http.Request) {
	h.clickCallback(w, r, false)
}

func (h *Handlers) ClickComplete(w http.ResponseWriter, r *http.Request) {
	h.clickCallback(w, r, true)
}

// clickCallback answers the gateway with HTTP 200 and a protocol code in the body. Only
// infrastructure failures turn into a 500, so that the gateway retries.
func (h *Handlers) clickCallback(w http.ResponseWriter, r *http.Request, complete bool) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusOK, &payment.Response{Error: payment.CodeBadRequest, ErrorNote: "malformed form body"})
		return
	}
	form := r.PostForm

	req, err := payment.ParseRequest(form, complete)
	if err != nil {
		pe, _ := payment.AsProtocolError(err)
		clickTransID, _ := strconv.ParseInt(form.Get("click_trans_id"), 10, 64)
		observability.LoggerFromContext(r.Context(), h.logger).WithField("note", pe.Note).Warn("malformed gateway callback")
		writeJSON(w, http.StatusOK, &payment.Response{
			ClickTransID:    clickTransID,
			MerchantTransID: form.Get("merchant_trans_id"),
			Error:           pe.Code,
			ErrorNote:       pe.Note,
		})
		return
	}

	var resp *payment.Response
	if complete {
		resp, err = h.click.Complete(r.Context(), req)
	} else {
		resp, err = h.click.Prepare(r.Context(), req)
	}
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
