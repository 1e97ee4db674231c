// Command paywatch follows one booking until its payment settles, the way the booking page
// does after sending the payer to the gateway.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/reconcile"
)

func main() {
	bookingID := flag.Int64("booking", 0, "booking id to watch")
	resume := flag.Bool("resume", false, "confirm the booking still awaits payment before polling")
	flag.Parse()
	if *bookingID <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLogger()

	checker := reconcile.NewHTTPChecker(cfg.Poller.APIURL, cfg.Poller.Token, cfg.Click.Timeout)
	poller := reconcile.NewPoller(checker, cfg.Poller, *bookingID, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *resume {
		err = poller.Resume(ctx)
	} else {
		err = poller.Start(ctx)
	}
	if err != nil {
		log.Fatalf("failed to start poller: %v", err)
	}

	outcome, err := poller.Wait(ctx)
	if err != nil {
		poller.Stop()
		logger.Info("interrupted")
		os.Exit(130)
	}
	if outcome.Err != nil {
		logger.WithError(outcome.Err).Error("payment not settled")
		os.Exit(1)
	}
	logger.WithFields(map[string]interface{}{
		"booking_status": outcome.Status.BookingStatus,
		"payment_status": outcome.Status.PaymentStatus,
	}).Info("payment settled")
}
