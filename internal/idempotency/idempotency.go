// Package idempotency replays stored responses for requests carrying an Idempotency-Key.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

const Header = "Idempotency-Key"

var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Record is a completed response remembered under a key.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, key string, rec Record, ttl time.Duration) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl}
}

// Fingerprint identifies a request by method, path and body.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the stored record for key, or nil. A record stored for a different request
// yields ErrKeyReused.
func (i *Idempotency) Lookup(ctx context.Context, key, fingerprint string) (*Record, error) {
	rec, err := i.store.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	return rec, nil
}

func (i *Idempotency) Save(ctx context.Context, key string, rec Record) error {
	return i.store.Set(ctx, key, rec, i.ttl)
}

// Middleware replays responses for requests that carry the header. Keys are scoped by the
// value scope returns (typically the caller's user id). Only 2xx responses are stored.
func (i *Idempotency) Middleware(scope func(*http.Request) string, logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(Header)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
				return
			}
			log := observability.LoggerFromContext(r.Context(), logger)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			scoped := scope(r) + ":" + key
			fp := Fingerprint(r.Method, r.URL.Path, body)

			rec, err := i.Lookup(r.Context(), scoped, fp)
			if errors.Is(err, ErrKeyReused) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			if err != nil {
				log.WithError(err).Error("idempotency lookup failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if rec != nil {
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			rw := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			if rw.status < 200 || rw.status > 299 {
				return
			}
			err = i.Save(r.Context(), scoped, Record{
				Status:      rw.status,
				ContentType: rw.Header().Get("Content-Type"),
				Body:        rw.buf.Bytes(),
				Fingerprint: fp,
			})
			if err != nil {
				log.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.buf.Write(p)
	return r.ResponseWriter.Write(p)
}
