// Package report renders ledger exports for agents.
package report

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheet = "Transactions"

var headers = []string{
	"ID", "Booking", "User", "Click transaction", "Click paydoc", "Prepare ID",
	"State", "Amount", "Created", "Performed", "Canceled",
}

// TransactionLister is the slice of the store the export reads.
type TransactionLister interface {
	ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error)
}

// WriteTransactions writes every transaction created in [from, to) as an XLSX workbook.
func WriteTransactions(ctx context.Context, src TransactionLister, from, to time.Time, w io.Writer) error {
	txs, err := src.ListTransactions(ctx, from, to)
	if err != nil {
		return errors.Wrap(err, "list transactions")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, t := range txs {
		amount, _ := t.Amount.Float64()
		row := []interface{}{
			t.ID, t.BookingID, t.UserID, t.ClickTransID, t.ClickPaydoc, t.PrepareID,
			string(t.State), amount, stamp(&t.CreateDate), stamp(t.PerformDate), stamp(t.CancelDate),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "write xlsx")
	}
	return nil
}

func stamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
