package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/ledger"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const lockTTL = 30 * time.Second

// Locker serializes callbacks for one booking across API replicas.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)
}

// Approver flips a booking to approved after a verified payment, inside the caller's transaction.
type Approver interface {
	ApprovePaid(ctx context.Context, tx domain.Tx, b *domain.Booking, amount decimal.Decimal) error
}

// Handler processes gateway callbacks. Protocol outcomes come back inside the Response;
// a returned error is an infrastructure failure.
type Handler struct {
	store    domain.Store
	ledger   *ledger.Ledger
	approver Approver
	audit    domain.PaymentAuditLog
	locker   Locker
	cfg      config.Click
	logger   observability.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewHandler(store domain.Store, l *ledger.Ledger, approver Approver, audit domain.PaymentAuditLog, cfg config.Click, logger observability.Logger) *Handler {
	return &Handler{
		store:    store,
		ledger:   l,
		approver: approver,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("payment"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithLocker adds a distributed per-booking lock around each callback.
func (h *Handler) WithLocker(l Locker) *Handler {
	h.locker = l
	return h
}

// Prepare reserves a ledger transaction for the booking named by merchant_trans_id.
func (h *Handler) Prepare(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := h.startSpan(ctx, "click.prepare", req)
	defer span.End()

	var (
		resp    = &Response{ClickTransID: req.ClickTransID, MerchantTransID: req.MerchantTransID}
		booking *domain.Booking
	)
	err := h.serialize(ctx, req, func(tx domain.Tx, b *domain.Booking) error {
		booking = b
		resp.MerchantPrepareID = 0
		if err := h.verify(req, b, ActionPrepare); err != nil {
			return err
		}
		if err := payable(b); err != nil {
			return err
		}
		if err := slotFree(ctx, tx, b); err != nil {
			return err
		}

		t, created, err := h.ledger.Prepare(ctx, tx, ledger.PrepareInput{
			ClickTransID: req.ClickTransID,
			ClickPaydoc:  req.ClickPaydocID,
			BookingID:    b.ID,
			UserID:       b.UserID,
			Amount:       b.FinalTotal,
		})
		if err != nil {
			return mapLedgerError(err)
		}
		resp.MerchantPrepareID = t.PrepareID
		if !created {
			return nil
		}

		if err := h.snapshot(ctx, tx, b, req, CodeSuccess); err != nil {
			return err
		}
		return h.emit(ctx, tx, domain.EventPaymentPrepared, t)
	})
	return h.finish(ctx, span, req, resp, booking, nil, err)
}

// Complete settles or cancels the transaction minted by a previous Prepare.
func (h *Handler) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := h.startSpan(ctx, "click.complete", req)
	defer span.End()

	var (
		resp    = &Response{ClickTransID: req.ClickTransID, MerchantTransID: req.MerchantTransID}
		booking *domain.Booking
		outcome *ProtocolError
	)
	err := h.serialize(ctx, req, func(tx domain.Tx, b *domain.Booking) error {
		booking, outcome = b, nil
		resp.MerchantConfirmID = 0
		if err := h.verify(req, b, ActionComplete); err != nil {
			return err
		}
		t, err := h.ledger.Lookup(ctx, tx, req.MerchantPrepareID, req.ClickTransID)
		if err != nil {
			return mapLedgerError(err)
		}
		if t.BookingID != b.ID {
			return Fail(CodeTransactionNotFound, "transaction belongs to another booking")
		}

		if req.Error < 0 {
			if err := h.cancel(ctx, tx, b, t, req); err != nil {
				return err
			}
			outcome = &ProtocolError{Code: h.cancelCode(), Note: "payment canceled by gateway"}
			return nil
		}
		if b.Status == domain.BookingRejected && t.State == domain.TxPending {
			if err := h.cancel(ctx, tx, b, t, req); err != nil {
				return err
			}
			outcome = &ProtocolError{Code: CodeTransactionCanceled, Note: "booking was rejected"}
			return nil
		}

		if err := h.ledger.Complete(ctx, tx, t); err != nil {
			return mapLedgerError(err)
		}
		b.PaymentResponse = h.payload(req, CodeSuccess)
		if err := h.approver.ApprovePaid(ctx, tx, b, t.Amount); err != nil {
			return errors.Wrap(err, "approve paid booking")
		}
		resp.MerchantConfirmID = t.ID
		return h.emit(ctx, tx, domain.EventPaymentCompleted, t)
	})
	return h.finish(ctx, span, req, resp, booking, outcome, err)
}

func (h *Handler) cancelCode() Code {
	if h.cfg.StrictCancelCode {
		return CodeTransactionCanceled
	}
	return CodeTransactionNotFound
}

func (h *Handler) cancel(ctx context.Context, tx domain.Tx, b *domain.Booking, t *domain.Transaction, req *Request) error {
	wasPending := t.State == domain.TxPending
	if err := h.ledger.Cancel(ctx, tx, t); err != nil {
		return mapLedgerError(err)
	}
	if b.PaymentStatus != domain.PaymentPaid {
		b.PaymentStatus = domain.PaymentFailed
	}
	if err := h.snapshot(ctx, tx, b, req, CodeTransactionCanceled); err != nil {
		return err
	}
	if !wasPending {
		return nil
	}
	return h.emit(ctx, tx, domain.EventPaymentCanceled, t)
}

// serialize resolves the booking by its request id and runs fn with the place and booking locked.
func (h *Handler) serialize(ctx context.Context, req *Request, fn func(tx domain.Tx, b *domain.Booking) error) error {
	if h.cfg.SecretKey == "" {
		return errors.New("click secret key is not configured")
	}
	head, err := h.store.GetBookingByRequestID(ctx, req.MerchantTransID)
	if errors.Is(err, domain.ErrNotFound) {
		return Fail(CodeTransactionNotFound, "booking not found")
	}
	if err != nil {
		return err
	}

	if h.locker != nil {
		unlock, err := h.locker.Lock(ctx, "click:"+req.MerchantTransID, lockTTL)
		if err != nil {
			return errors.Wrapf(err, "lock booking %s", req.MerchantTransID)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				h.logger.WithError(err).Warn("release booking lock")
			}
		}()
	}

	return h.store.WithTx(ctx, func(tx domain.Tx) error {
		if err := tx.LockPlace(ctx, head.PlaceID); err != nil {
			return err
		}
		b, err := tx.GetBookingByRequestIDForUpdate(ctx, req.MerchantTransID)
		if errors.Is(err, domain.ErrNotFound) {
			return Fail(CodeTransactionNotFound, "booking not found")
		}
		if err != nil {
			return err
		}
		return fn(tx, b)
	})
}

// verify runs the signature, amount and action checks in that order.
func (h *Handler) verify(req *Request, b *domain.Booking, action int) error {
	if !VerifySignature(h.cfg.SecretKey, req) {
		return Fail(CodeSignFailed, "")
	}
	if h.cfg.ServiceID != "" && strconv.FormatInt(req.ServiceID, 10) != h.cfg.ServiceID {
		return Fail(CodeBadRequest, "unknown service_id")
	}
	got, err := NormalizeAmount(req.Amount)
	if err != nil {
		return Fail(CodeInvalidAmount, fmt.Sprintf("amount %q is not a number", req.Amount))
	}
	if want := b.FinalTotal.StringFixed(2); got != want {
		return Fail(CodeInvalidAmount, fmt.Sprintf("amount %s does not match booking total %s", got, want))
	}
	if req.Action != action {
		return Fail(CodeActionNotFound, "")
	}
	return nil
}

// payable reports whether b is waiting for a payment.
func payable(b *domain.Booking) error {
	switch b.Status {
	case domain.BookingSelected:
		return nil
	case domain.BookingApproved:
		return Fail(CodeAlreadyPaid, "booking is already confirmed")
	case domain.BookingRejected:
		return Fail(CodeTransactionCanceled, "booking was rejected")
	}
	return Fail(CodeBadRequest, "booking has not been selected for payment")
}

// slotFree refuses payment for a booking whose slots an approved sibling already holds.
func slotFree(ctx context.Context, tx domain.Tx, b *domain.Booking) error {
	approved, err := tx.ListPlaceBookings(ctx, b.PlaceID, domain.BookingApproved)
	if err != nil {
		return err
	}
	for i := range approved {
		if approved[i].ID != b.ID && approved[i].Overlaps(b) {
			return Fail(CodeTransactionCanceled, fmt.Sprintf("booking %d is approved for an overlapping slot", approved[i].ID))
		}
	}
	return nil
}

// NormalizeAmount renders a decimal amount with exactly two fractional digits.
func NormalizeAmount(s string) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", err
	}
	return d.StringFixed(2), nil
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAlreadyPaid):
		return Fail(CodeAlreadyPaid, "")
	case errors.Is(err, ledger.ErrTransactionCanceled):
		return Fail(CodeTransactionCanceled, "")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return Fail(CodeTransactionNotFound, "")
	case errors.Is(err, domain.ErrConflict):
		return Fail(CodeBadRequest, "click_trans_id is bound to another booking")
	}
	return err
}

func (h *Handler) payload(req *Request, code Code) json.RawMessage {
	fields := req.fields()
	fields["result"] = code.String()
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}

func (h *Handler) snapshot(ctx context.Context, tx domain.Tx, b *domain.Booking, req *Request, code Code) error {
	b.PaymentResponse = h.payload(req, code)
	b.UpdatedAt = h.now()
	return tx.UpdateBooking(ctx, b)
}

func (h *Handler) emit(ctx context.Context, tx domain.Tx, event string, t *domain.Transaction) error {
	rec, err := domain.NewPaymentOutboxRecord(event, t)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, rec)
}

func (h *Handler) startSpan(ctx context.Context, name string, req *Request) (context.Context, trace.Span) {
	return h.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int64("click.trans_id", req.ClickTransID),
		attribute.String("click.merchant_trans_id", req.MerchantTransID),
	))
}

// finish turns the callback outcome into the gateway response, records metrics and appends
// the audit event.
func (h *Handler) finish(ctx context.Context, span trace.Span, req *Request, resp *Response, b *domain.Booking, outcome *ProtocolError, err error) (*Response, error) {
	action := "prepare"
	if req.Complete {
		action = "complete"
	}
	log := observability.LoggerFromContext(ctx, h.logger).WithFields(map[string]interface{}{
		"click_trans_id":    req.ClickTransID,
		"merchant_trans_id": req.MerchantTransID,
		"action":            action,
	})

	if pe, ok := AsProtocolError(err); ok {
		outcome, err = pe, nil
		resp.MerchantPrepareID, resp.MerchantConfirmID = 0, 0
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "callback failed")
		observability.GatewayCallbacks.WithLabelValues(action, "error").Inc()
		log.WithError(err).Error("gateway callback failed")
		return nil, err
	}

	resp.Error, resp.ErrorNote = CodeSuccess, CodeSuccess.Note()
	if outcome != nil {
		resp.Error, resp.ErrorNote = outcome.Code, outcome.Note
	}
	span.SetAttributes(attribute.Int("click.code", int(resp.Error)))
	observability.GatewayCallbacks.WithLabelValues(action, resp.Error.String()).Inc()
	log.WithField("code", int(resp.Error)).Info("gateway callback handled")

	if h.audit != nil {
		ev := domain.PaymentEvent{
			RequestID:    req.MerchantTransID,
			Action:       action,
			ClickTransID: req.ClickTransID,
			Code:         int(resp.Error),
			Note:         resp.ErrorNote,
			Payload:      req.fields(),
			At:           h.now(),
		}
		if b != nil {
			ev.BookingID = b.ID
		}
		if err := h.audit.Append(ctx, ev); err != nil {
			log.WithError(err).Warn("append payment audit event")
		}
	}
	return resp, nil
}
