package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	CRDBDSN      string        `envconfig:"CRDB_DSN"`
	MongoURI     string        `envconfig:"MONGO_URI"`
	MongoDB      string        `envconfig:"MONGO_DB" default:"venue"`
	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	RabbitURL    string        `envconfig:"RABBIT_URL"`
	OTLPEndpoint string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	HTTPAddr     string        `envconfig:"HTTP_ADDR" default:":8080"`
	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWKSURL      string        `envconfig:"JWKS_URL"`
	PendingTxTTL time.Duration `envconfig:"PENDING_TX_TTL" default:"30m"`
	SweepEvery   time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	RateLimit    int           `envconfig:"RATE_LIMIT" default:"120"`
	RateWindow   time.Duration `envconfig:"RATE_WINDOW" default:"1m"`

	Click  Click  `envconfig:"CLICK"`
	Poller Poller `envconfig:"POLL"`
}

// Click holds the payment-gateway merchant settings.
type Click struct {
	ServiceID        string        `envconfig:"SERVICE_ID"`
	MerchantID       string        `envconfig:"MERCHANT_ID"`
	MerchantUserID   string        `envconfig:"MERCHANT_USER_ID"`
	SecretKey        string        `envconfig:"SECRET_KEY"`
	CheckoutURL      string        `envconfig:"CHECKOUT_URL" default:"https://my.click.uz/services/pay"`
	APIURL           string        `envconfig:"API_URL" default:"https://api.click.uz/v2/merchant"`
	ReturnURL        string        `envconfig:"RETURN_URL"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"10s"`
	StrictCancelCode bool          `envconfig:"STRICT_CANCEL_CODE" default:"false"`
}

// Poller tunes the client-side reconciliation loop used by cmd/paywatch.
type Poller struct {
	APIURL               string        `envconfig:"API_URL" default:"http://localhost:8080"`
	Token                string        `envconfig:"TOKEN"`
	InitialDelay         time.Duration `envconfig:"INITIAL_DELAY" default:"2s"`
	ProcessingInterval   time.Duration `envconfig:"PROCESSING_INTERVAL" default:"3s"`
	CreatedInterval      time.Duration `envconfig:"CREATED_INTERVAL" default:"10s"`
	MaxErrorInterval     time.Duration `envconfig:"MAX_ERROR_INTERVAL" default:"30s"`
	MaxDuration          time.Duration `envconfig:"MAX_DURATION" default:"15m"`
	MaxConsecutiveErrors int           `envconfig:"MAX_CONSECUTIVE_ERRORS" default:"5"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
