package http

import (
	"bytes"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func parseDay(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, errors.Wrapf(domain.ErrInvalidInput, "invalid date %q", s)
	}
	return t, nil
}

// ExportTransactions streams the ledger for [from, to) as XLSX. Both bounds are days; to is
// inclusive in the query and defaults to today, from defaults to 30 days earlier.
func (h *Handlers) ExportTransactions(w http.ResponseWriter, r *http.Request) {
	if !mustActor(r).IsAgent() {
		writeError(w, r, h.logger, errors.Wrap(domain.ErrForbidden, "agents only"))
		return
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	to, err := parseDay(r.URL.Query().Get("to"), today)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	from, err := parseDay(r.URL.Query().Get("from"), to.AddDate(0, 0, -30))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	to = to.AddDate(0, 0, 1)
	if !from.Before(to) {
		writeError(w, r, h.logger, errors.Wrap(domain.ErrInvalidInput, "from must not be after to"))
		return
	}

	var buf bytes.Buffer
	if err := report.WriteTransactions(r.Context(), h.transactions, from, to, &buf); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="transactions-`+from.Format("20060102")+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
