package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// HTTPChecker calls the API's smart-check endpoint with a bearer token.
type HTTPChecker struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPChecker(baseURL, token string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Check(ctx context.Context, bookingID int64) (*Status, error) {
	url := c.baseURL + "/v1/bookings/" + strconv.FormatInt(bookingID, 10) + "/check-payment-smart"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "smart check request")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, errors.Newf("smart check: %d %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var st Status
	if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
		return nil, errors.Wrap(err, "decode smart check")
	}
	return &st, nil
}
