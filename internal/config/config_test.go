package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CLICK_SERVICE_ID", "777")
	t.Setenv("CLICK_SECRET_KEY", "s3cr3t")
	t.Setenv("PENDING_TX_TTL", "45m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "777", cfg.Click.ServiceID)
	assert.Equal(t, "s3cr3t", cfg.Click.SecretKey)
	assert.Equal(t, 10*time.Second, cfg.Click.Timeout)
	assert.Equal(t, "https://my.click.uz/services/pay", cfg.Click.CheckoutURL)
	assert.Equal(t, 45*time.Minute, cfg.PendingTxTTL)
	assert.Equal(t, 5, cfg.Poller.MaxConsecutiveErrors)
	assert.False(t, cfg.Click.StrictCancelCode)
	assert.Equal(t, 120, cfg.RateLimit)
	assert.Equal(t, "venue", cfg.MongoDB)
}
