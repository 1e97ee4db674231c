package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/robertarktes/venue-bookings/internal/adapters/memory"
	"github.com/robertarktes/venue-bookings/internal/auth"
	"github.com/robertarktes/venue-bookings/internal/availability"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/ledger"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"github.com/robertarktes/venue-bookings/internal/rateLimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret   = "jwt-test-secret"
	clickSecret = "click-secret"
)

type testAPI struct {
	t      *testing.T
	server *httptest.Server
	store  *memory.Store
	tokens map[domain.Role]string
}

func newTestAPI(t *testing.T, click config.Click) *testAPI {
	t.Helper()
	return newLimitedAPI(t, click, nil)
}

func newLimitedAPI(t *testing.T, click config.Click, rl *rateLimit.RateLimiter) *testAPI {
	t.Helper()
	logger := observability.NewNopLogger()
	store := memory.NewStore()
	store.AddPlace(domain.Place{
		ID:        1,
		OwnerID:   "host-1",
		StartDate: civil.Date{Year: 2025, Month: time.June, Day: 1},
		EndDate:   civil.Date{Year: 2025, Month: time.August, Day: 31},
	})
	store.AddPlace(domain.Place{
		ID:        2,
		OwnerID:   "host-2",
		StartDate: civil.Date{Year: 2025, Month: time.June, Day: 1},
		EndDate:   civil.Date{Year: 2025, Month: time.August, Day: 31},
	})

	engine := availability.NewEngine(store)
	bookings := booking.NewService(store, store, engine, logger)
	payments := payment.NewService(store, bookings, bookings, nil, click, logger)
	clickHandler := payment.NewHandler(store, ledger.New(), bookings, store, click, logger)
	h := NewHandlers(bookings, payments, clickHandler, engine, store, store, store, logger)

	server := httptest.NewServer(SetupRouter(h, logger, auth.NewHMACVerifier(jwtSecret), rl, nil))
	t.Cleanup(server.Close)

	api := &testAPI{t: t, server: server, store: store, tokens: map[domain.Role]string{}}
	for role, user := range map[domain.Role]string{domain.RoleClient: "client-1", domain.RoleHost: "host-1", domain.RoleAgent: "agent-1"} {
		tok, err := auth.IssueToken(jwtSecret, user, role, time.Hour)
		require.NoError(t, err)
		api.tokens[role] = tok
	}
	return api
}

func defaultClick() config.Click {
	return config.Click{ServiceID: "42", MerchantID: "7", SecretKey: clickSecret, CheckoutURL: "https://my.click.uz/services/pay", ReturnURL: "https://app.example/return"}
}

func (a *testAPI) do(method, path string, role domain.Role, body interface{}) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) webhook(path string, form url.Values) *http.Response {
	a.t.Helper()
	resp, err := a.server.Client().PostForm(a.server.URL+path, form)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func signedForm(req *payment.Request) url.Values {
	req.SignString = payment.SignatureV1(clickSecret, req)
	form := url.Values{
		"click_trans_id":    {strconv.FormatInt(req.ClickTransID, 10)},
		"service_id":        {strconv.FormatInt(req.ServiceID, 10)},
		"click_paydoc_id":   {strconv.FormatInt(req.ClickPaydocID, 10)},
		"merchant_trans_id": {req.MerchantTransID},
		"amount":            {req.Amount},
		"action":            {strconv.Itoa(req.Action)},
		"error":             {strconv.Itoa(req.Error)},
		"error_note":        {req.ErrorNote},
		"sign_time":         {req.SignTime},
		"sign_string":       {req.SignString},
	}
	if req.Complete {
		form.Set("merchant_prepare_id", strconv.FormatInt(req.MerchantPrepareID, 10))
	}
	return form
}

func (a *testAPI) createSelected() domain.Booking {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/v1/bookings", domain.RoleClient, map[string]interface{}{
		"placeId":    1,
		"timeSlots":  []map[string]string{{"date": "2025-07-01", "startTime": "10:00", "endTime": "13:00"}},
		"totalPrice": "150000",
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	var b domain.Booking
	decodeBody(a.t, resp, &b)
	assert.Equal(a.t, domain.BookingPending, b.Status)

	resp = a.do(http.MethodPut, "/v1/bookings/"+strconv.FormatInt(b.ID, 10), domain.RoleHost, map[string]string{"status": "selected"})
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	decodeBody(a.t, resp, &b)
	require.Equal(a.t, domain.BookingSelected, b.Status)
	return b
}

func TestAPI_PaymentHandshakeApprovesBooking(t *testing.T) {
	api := newTestAPI(t, defaultClick())
	b := api.createSelected()
	id := strconv.FormatInt(b.ID, 10)

	resp := api.do(http.MethodPost, "/v1/payment/create-invoice", domain.RoleClient, map[string]int64{"bookingId": b.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inv payment.Invoice
	decodeBody(t, resp, &inv)
	assert.Contains(t, inv.CheckoutURL, "transaction_param="+b.UniqueRequestID)

	prepare := &payment.Request{ClickTransID: 5001, ServiceID: 42, ClickPaydocID: 6001, MerchantTransID: b.UniqueRequestID,
		Amount: "150000.00", Action: payment.ActionPrepare, SignTime: "2025-07-01 10:00:00"}
	resp = api.webhook("/v1/payment/click/prepare", signedForm(prepare))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var prepared payment.Response
	decodeBody(t, resp, &prepared)
	require.Equal(t, payment.CodeSuccess, prepared.Error)
	require.NotZero(t, prepared.MerchantPrepareID)

	complete := &payment.Request{Complete: true, ClickTransID: 5001, ServiceID: 42, ClickPaydocID: 6001, MerchantTransID: b.UniqueRequestID,
		MerchantPrepareID: prepared.MerchantPrepareID, Amount: "150000.00", Action: payment.ActionComplete, SignTime: "2025-07-01 10:01:00"}
	resp = api.webhook("/v1/payment/click/complete", signedForm(complete))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed payment.Response
	decodeBody(t, resp, &completed)
	require.Equal(t, payment.CodeSuccess, completed.Error)
	assert.NotZero(t, completed.MerchantConfirmID)

	resp = api.do(http.MethodPost, "/v1/bookings/"+id+"/check-payment-smart", domain.RoleClient, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st payment.Status
	decodeBody(t, resp, &st)
	assert.True(t, st.Approved)
	assert.Equal(t, ledger.StatusPaid, st.PaymentStatus)

	resp = api.do(http.MethodGet, "/v1/bookings/"+id+"/payment-events", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events struct {
		Events []domain.PaymentEvent `json:"events"`
	}
	decodeBody(t, resp, &events)
	assert.Len(t, events.Events, 2)

	resp = api.do(http.MethodPost, "/v1/places/1/availability", domain.RoleClient, map[string]interface{}{
		"dates": []string{"2025-07-01"}, "startTime": "12:00", "endTime": "14:00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var avail availabilityResponse
	decodeBody(t, resp, &avail)
	assert.False(t, avail.Available)
	assert.Equal(t, availability.ReasonBooked, avail.Reason)
	assert.Equal(t, b.ID, avail.Conflict)

	resp = api.do(http.MethodPost, "/v1/places/availability", domain.RoleClient, map[string]interface{}{
		"placeIds": []int64{1, 2}, "dates": []string{"2025-07-01"}, "startTime": "12:00", "endTime": "14:00",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var filtered struct {
		PlaceIDs []int64 `json:"placeIds"`
	}
	decodeBody(t, resp, &filtered)
	assert.Equal(t, []int64{2}, filtered.PlaceIDs)
}

func TestAPI_WebhookProtocolErrorsAre200(t *testing.T) {
	api := newTestAPI(t, defaultClick())
	b := api.createSelected()

	resp := api.webhook("/v1/payment/click/prepare", url.Values{"click_trans_id": {"1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out payment.Response
	decodeBody(t, resp, &out)
	assert.Equal(t, payment.CodeBadRequest, out.Error)
	assert.True(t, strings.HasPrefix(out.ErrorNote, "missing fields:"))

	tampered := signedForm(&payment.Request{ClickTransID: 7, ServiceID: 42, MerchantTransID: b.UniqueRequestID,
		Amount: "150000.00", Action: payment.ActionPrepare, SignTime: "2025-07-01 10:00:00"})
	tampered.Set("amount", "1.00")
	resp = api.webhook("/v1/payment/click/prepare", tampered)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &out)
	assert.Equal(t, payment.CodeSignFailed, out.Error)
}

func TestAPI_WebhookMissingSecretIs500(t *testing.T) {
	click := defaultClick()
	click.SecretKey = ""
	api := newTestAPI(t, click)
	b := api.createSelected()

	form := signedForm(&payment.Request{ClickTransID: 7, ServiceID: 42, MerchantTransID: b.UniqueRequestID,
		Amount: "150000.00", Action: payment.ActionPrepare, SignTime: "2025-07-01 10:00:00"})
	resp := api.webhook("/v1/payment/click/prepare", form)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, defaultClick())
	b := api.createSelected()
	id := strconv.FormatInt(b.ID, 10)

	resp := api.do(http.MethodGet, "/v1/bookings/"+id, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(http.MethodGet, "/v1/bookings/999", domain.RoleClient, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(http.MethodGet, "/v1/bookings/abc", domain.RoleClient, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(http.MethodPut, "/v1/bookings/"+id, domain.RoleHost, map[string]interface{}{"status": "approved", "paymentConfirmed": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(http.MethodPut, "/v1/bookings/"+id, domain.RoleClient, map[string]string{"status": "rejected"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(http.MethodPost, "/v1/bookings/"+id+"/paid-to-host", domain.RoleHost, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(http.MethodGet, "/v1/bookings/"+id+"/competing", domain.RoleHost, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_AgentExport(t *testing.T) {
	api := newTestAPI(t, defaultClick())

	resp := api.do(http.MethodGet, "/v1/agent/transactions/export?from=2025-07-01&to=2025-07-31", domain.RoleClient, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(http.MethodGet, "/v1/agent/transactions/export?from=2025-07-01&to=2025-07-31", domain.RoleAgent, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	resp = api.do(http.MethodGet, "/v1/agent/transactions/export?from=july", domain.RoleAgent, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, defaultClick())

	resp := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "venue_requests_total")
}

type windowCounter struct {
	mu   sync.Mutex
	hits map[string]int64
}

func (c *windowCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[key]++
	return c.hits[key], nil
}

func TestAPI_WebhooksBypassRateLimit(t *testing.T) {
	counter := &windowCounter{hits: map[string]int64{}}
	api := newLimitedAPI(t, defaultClick(), rateLimit.NewRateLimiter(counter, 1, time.Minute))

	for i := 0; i < 3; i++ {
		resp := api.webhook("/v1/payment/click/prepare", url.Values{"click_trans_id": {"1"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var out payment.Response
		decodeBody(t, resp, &out)
		assert.Equal(t, payment.CodeBadRequest, out.Error)
	}

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/v1/bookings/999", domain.RoleClient, nil).StatusCode)
	limited := api.do(http.MethodGet, "/v1/bookings/999", domain.RoleClient, nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "60", limited.Header.Get("Retry-After"))
}
