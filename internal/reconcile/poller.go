// Package reconcile drives the client side of payment reconciliation: a single-flight loop
// that asks the API for the ledger-derived status of one booking until it settles.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

var (
	ErrTimeout        = errors.New("payment check timed out")
	ErrTooManyErrors  = errors.New("too many consecutive check failures")
	ErrPaymentFailed  = errors.New("payment failed")
	ErrStopped        = errors.New("poller stopped")
	ErrAlreadyPolling = errors.New("poller already running")
	ErrNotEligible    = errors.New("booking is no longer awaiting payment")
)

// Status is the smart-check answer for one booking.
type Status struct {
	BookingID     int64  `json:"bookingId"`
	BookingStatus string `json:"bookingStatus"`
	PaymentStatus string `json:"paymentStatus"`
	Approved      bool   `json:"approved"`
	ErrorCode     int    `json:"errorCode"`
}

func (s *Status) settled() bool {
	return s.Approved || s.BookingStatus == "approved" || s.PaymentStatus == "paid"
}

// Checker performs one idempotent smart-check call.
type Checker interface {
	Check(ctx context.Context, bookingID int64) (*Status, error)
}

type State int

const (
	Idle State = iota
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Outcome is how a polling run ended. Err is nil when the booking settled.
type Outcome struct {
	Status *Status
	Err    error
}

// Poller watches one booking. Each Start begins a new generation; a tick belonging to an
// older generation never runs.
type Poller struct {
	checker   Checker
	cfg       config.Poller
	bookingID int64
	logger    observability.Logger
	now       func() time.Time

	mu          sync.Mutex
	state       State
	gen         uint64
	cancel      context.CancelFunc
	started     time.Time
	consecutive int
	bo          backoff.BackOff
	done        chan struct{}
	outcome     Outcome
}

func NewPoller(checker Checker, cfg config.Poller, bookingID int64, logger observability.Logger) *Poller {
	done := make(chan struct{})
	close(done)
	return &Poller{
		checker:   checker,
		cfg:       cfg,
		bookingID: bookingID,
		logger:    logger.WithField("booking_id", bookingID),
		now:       time.Now,
		done:      done,
	}
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the current run ends.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Outcome returns the result of the last finished run.
func (p *Poller) Outcome() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome
}

// Wait blocks until the current run ends or ctx is done.
func (p *Poller) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.Done():
		return p.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Start arms the poller: the first check runs after InitialDelay.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Polling {
		return ErrAlreadyPolling
	}

	p.gen++
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = Polling
	p.started = p.now()
	p.consecutive = 0
	p.bo = p.newBackOff()
	p.done = make(chan struct{})
	p.outcome = Outcome{}

	go p.run(runCtx, p.gen, p.cfg.InitialDelay)
	return nil
}

// Stop ends the current run. No tick is scheduled after Stop returns, and a check already
// in flight has its context canceled.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Polling {
		return
	}
	p.endLocked(Outcome{Err: ErrStopped})
}

// Resume re-arms a stopped or idle poller after confirming the booking still awaits payment.
func (p *Poller) Resume(ctx context.Context) error {
	if p.State() == Polling {
		return nil
	}
	st, err := p.checker.Check(ctx, p.bookingID)
	if err != nil {
		return errors.Wrap(err, "confirm booking before resuming")
	}
	if st.settled() {
		p.mu.Lock()
		p.outcome = Outcome{Status: st}
		p.mu.Unlock()
		return nil
	}
	if st.BookingStatus != "pending" && st.BookingStatus != "selected" {
		return errors.Wrapf(ErrNotEligible, "booking is %s", st.BookingStatus)
	}
	return p.Start(ctx)
}

func (p *Poller) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.ProcessingInterval
	bo.MaxInterval = p.cfg.MaxErrorInterval
	bo.MaxElapsedTime = 0
	return bo
}

func (p *Poller) run(ctx context.Context, gen uint64, delay time.Duration) {
	for {
		if left := p.cfg.MaxDuration - p.elapsed(); delay > left {
			delay = max(left, 0)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.finish(gen, Outcome{Err: ctx.Err()})
			return
		case <-timer.C:
		}

		if !p.active(gen) {
			return
		}
		if p.elapsed() >= p.cfg.MaxDuration {
			p.finish(gen, Outcome{Err: ErrTimeout})
			return
		}

		st, err := p.checker.Check(ctx, p.bookingID)
		next, outcome, stop := p.decide(ctx, gen, st, err)
		if stop {
			p.finish(gen, outcome)
			return
		}
		delay = next
	}
}

func (p *Poller) active(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Polling && p.gen == gen
}

func (p *Poller) elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.started)
}

// decide picks the next delay from the last answer, or ends the run.
func (p *Poller) decide(ctx context.Context, gen uint64, st *Status, err error) (time.Duration, Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.state != Polling {
		return 0, Outcome{}, true
	}

	if err != nil {
		if ctx.Err() != nil {
			return 0, Outcome{Err: ctx.Err()}, true
		}
		p.consecutive++
		p.logger.WithError(err).WithField("attempt", p.consecutive).Warn("payment check failed")
		if p.consecutive >= p.cfg.MaxConsecutiveErrors {
			return 0, Outcome{Err: errors.Wrapf(ErrTooManyErrors, "%d failures, last: %v", p.consecutive, err)}, true
		}
		return p.bo.NextBackOff(), Outcome{}, false
	}

	p.consecutive = 0
	p.bo.Reset()
	switch {
	case st.settled():
		return 0, Outcome{Status: st}, true
	case st.ErrorCode < 0:
		return 0, Outcome{Status: st, Err: errors.Wrapf(ErrPaymentFailed, "gateway code %d", st.ErrorCode)}, true
	case st.PaymentStatus == "processing":
		return p.cfg.ProcessingInterval, Outcome{}, false
	}
	return p.cfg.CreatedInterval, Outcome{}, false
}

func (p *Poller) finish(gen uint64, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen || p.state != Polling {
		return
	}
	p.endLocked(outcome)
}

func (p *Poller) endLocked(outcome Outcome) {
	p.state = Stopped
	p.gen++
	p.outcome = outcome
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	close(p.done)
}
