package rateLimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	hits map[string]int64
	err  error
}

func (f *fakeCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.hits[key]++
	return f.hits[key], nil
}

func TestMiddleware_LimitsPerKey(t *testing.T) {
	counter := &fakeCounter{hits: map[string]int64{}}
	rl := NewRateLimiter(counter, 2, time.Minute)
	h := rl.Middleware(ByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	codes := []int{send("10.0.0.1:5000"), send("10.0.0.1:5001"), send("10.0.0.1:5002")}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 200, send("10.0.0.2:5000"))
	assert.Equal(t, int64(3), counter.hits["ip:10.0.0.1"])
}

func TestMiddleware_EmptyKeySkips(t *testing.T) {
	counter := &fakeCounter{hits: map[string]int64{}}
	rl := NewRateLimiter(counter, 0, time.Minute)
	h := rl.Middleware(func(*http.Request) string { return "" })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, counter.hits)
}

func TestAllow_FailsOpen(t *testing.T) {
	rl := NewRateLimiter(&fakeCounter{err: errors.New("down")}, 1, time.Minute)
	assert.True(t, rl.Allow(context.Background(), "ip:x"))
}
