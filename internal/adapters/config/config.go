package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"alphatrader/pkg/errors"
)

type Config struct {
	App           AppConfig
	Exchanges     ExchangesConfig
	ErrorTracking ErrorTrackingConfig
	Metrics       MetricsConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"alphatrader"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type ExchangesConfig struct {
	// Default is the exchange used when callers do not name one.
	Default     string            `envconfig:"EXCHANGE_DEFAULT" default:"binance_futures"`
	Binance     BinanceConfig     `envconfig:"BINANCE"`
	Hyperliquid HyperliquidConfig `envconfig:"HYPERLIQUID"`
}

// BinanceConfig configures the Binance USDT-margined futures adapter.
type BinanceConfig struct {
	Enabled bool `envconfig:"BINANCE_ENABLED" default:"true"`
	Testnet bool `envconfig:"BINANCE_TESTNET" default:"false"`

	// Credential environment variable names, not the values themselves.
	APIKeyVar    string `envconfig:"BINANCE_API_KEY_VAR" default:"BINANCE_API_KEY"`
	SecretKeyVar string `envconfig:"BINANCE_SECRET_KEY_VAR" default:"BINANCE_SECRET_KEY"`
	// Optional .env-style file holding the credentials instead.
	CredentialsFile string `envconfig:"BINANCE_CREDENTIALS_FILE"`

	BaseURL string        `envconfig:"BINANCE_BASE_URL"`
	WSURL   string        `envconfig:"BINANCE_WS_URL"`
	Timeout time.Duration `envconfig:"BINANCE_TIMEOUT" default:"10s"`

	RequestsPerMinute int           `envconfig:"BINANCE_REQUESTS_PER_MINUTE" default:"1200"`
	OrdersPerMinute   int           `envconfig:"BINANCE_ORDERS_PER_MINUTE" default:"600"`
	RateLimitMaxWait  time.Duration `envconfig:"BINANCE_RATE_LIMIT_MAX_WAIT" default:"10s"`

	DefaultLeverage int     `envconfig:"BINANCE_DEFAULT_LEVERAGE" default:"1"`
	MaxLeverage     int     `envconfig:"BINANCE_MAX_LEVERAGE" default:"20"`
	MakerFee        float64 `envconfig:"BINANCE_MAKER_FEE" default:"0.0002"`
	TakerFee        float64 `envconfig:"BINANCE_TAKER_FEE" default:"0.0004"`

	// Symbols restricts the tradable set; empty means all built-ins.
	Symbols         []string `envconfig:"BINANCE_SYMBOLS"`
	MarkPriceStream bool     `envconfig:"BINANCE_MARK_PRICE_STREAM" default:"false"`
}

// HyperliquidConfig configures the Hyperliquid perpetuals adapter.
type HyperliquidConfig struct {
	Enabled bool `envconfig:"HYPERLIQUID_ENABLED" default:"false"`
	Testnet bool `envconfig:"HYPERLIQUID_TESTNET" default:"false"`

	WalletAddressVar string `envconfig:"HYPERLIQUID_WALLET_ADDRESS_VAR" default:"HYPERLIQUID_WALLET_ADDRESS"`
	PrivateKeyVar    string `envconfig:"HYPERLIQUID_PRIVATE_KEY_VAR" default:"HYPERLIQUID_PRIVATE_KEY"`
	// MainWalletVar names the master wallet when trading through an API wallet.
	MainWalletVar   string `envconfig:"HYPERLIQUID_MAIN_WALLET_VAR" default:"HYPERLIQUID_MAIN_WALLET"`
	CredentialsFile string `envconfig:"HYPERLIQUID_CREDENTIALS_FILE"`

	BaseURL string        `envconfig:"HYPERLIQUID_BASE_URL"`
	Timeout time.Duration `envconfig:"HYPERLIQUID_TIMEOUT" default:"10s"`

	RequestsPerMinute int           `envconfig:"HYPERLIQUID_REQUESTS_PER_MINUTE" default:"600"`
	OrdersPerMinute   int           `envconfig:"HYPERLIQUID_ORDERS_PER_MINUTE" default:"300"`
	RateLimitMaxWait  time.Duration `envconfig:"HYPERLIQUID_RATE_LIMIT_MAX_WAIT" default:"10s"`

	DefaultLeverage int     `envconfig:"HYPERLIQUID_DEFAULT_LEVERAGE" default:"1"`
	MaxLeverage     int     `envconfig:"HYPERLIQUID_MAX_LEVERAGE" default:"10"`
	MakerFee        float64 `envconfig:"HYPERLIQUID_MAKER_FEE" default:"0.0001"`
	TakerFee        float64 `envconfig:"HYPERLIQUID_TAKER_FEE" default:"0.00035"`

	// SlippagePercent bounds the reference price of market-style orders.
	SlippagePercent float64 `envconfig:"HYPERLIQUID_SLIPPAGE_PERCENT" default:"0.5"`

	Symbols []string `envconfig:"HYPERLIQUID_SYMBOLS"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   Secret `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would only fail later at first use.
func (c *Config) Validate() error {
	switch c.Exchanges.Default {
	case "binance", "binance_futures", "hyperliquid", "hl":
	default:
		return errors.Newf("unknown default exchange %q", c.Exchanges.Default)
	}

	if c.Exchanges.Binance.Enabled {
		if err := validateLimits("binance", c.Exchanges.Binance.RequestsPerMinute, c.Exchanges.Binance.MaxLeverage); err != nil {
			return err
		}
	}
	if c.Exchanges.Hyperliquid.Enabled {
		if err := validateLimits("hyperliquid", c.Exchanges.Hyperliquid.RequestsPerMinute, c.Exchanges.Hyperliquid.MaxLeverage); err != nil {
			return err
		}
		if c.Exchanges.Hyperliquid.SlippagePercent <= 0 || c.Exchanges.Hyperliquid.SlippagePercent > 5 {
			return errors.Newf("hyperliquid slippage percent %.2f out of range (0, 5]", c.Exchanges.Hyperliquid.SlippagePercent)
		}
	}

	if c.ErrorTracking.Enabled && c.ErrorTracking.Provider == "sentry" && !c.ErrorTracking.SentryDSN.IsSet() {
		return errors.New("error tracking enabled but SENTRY_DSN is empty")
	}

	return nil
}

func validateLimits(exchange string, requestsPerMinute, maxLeverage int) error {
	if requestsPerMinute <= 0 {
		return errors.Newf("%s requests per minute must be positive", exchange)
	}
	if maxLeverage < 1 {
		return errors.Newf("%s max leverage must be at least 1", exchange)
	}
	return nil
}
