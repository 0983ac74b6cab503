package exchanges

import (
	"context"

	"github.com/shopspring/decimal"
)

// Trader is the unified contract every exchange adapter must satisfy.
// Callers depend only on this interface, never on concrete adapter types.
//
// All trading operations validate locally (symbol mapping, precision,
// minimum notional, leverage ceiling) before any network I/O, so that bad
// input never produces an exchange-side effect.
type Trader interface {
	// Name returns the exchange identifier, e.g. "binance_futures".
	Name() string

	// Account
	GetBalance(ctx context.Context) (*Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)

	// Market data
	GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// Trading. Not idempotent: a retried call places a second order unless
	// the exchange deduplicates on ClientOrderID.
	OpenLong(ctx context.Context, intent OrderIntent) (*OrderResult, error)
	OpenShort(ctx context.Context, intent OrderIntent) (*OrderResult, error)

	// CloseLong/CloseShort submit a reduce-only market order. Zero quantity
	// closes the whole position.
	CloseLong(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error)
	CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*OrderResult, error)

	// Futures configuration
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error

	// Order management
	CancelAllOrders(ctx context.Context, symbol string) error

	// Symbol utilities. ValidateSymbol never errors; unknown symbols
	// return false.
	ValidateSymbol(symbol string) bool
	NormalizeSymbol(symbol string) (string, error)
	FormatQuantity(symbol string, quantity decimal.Decimal) (string, error)
	FormatPrice(symbol string, price decimal.Decimal) (string, error)

	// Fees
	GetTradingFees(symbol string) (*TradingFees, error)

	// HealthCheck never errors: failures are caught and classified into
	// the returned status.
	HealthCheck(ctx context.Context) *HealthStatus
}

// Factory is the single lookup point for adapters. It owns the cache of
// live adapters and is the sole authority for their lifecycle.
type Factory interface {
	// Get resolves the named exchange, constructing and caching its adapter
	// on first use. Unknown or disabled exchanges fail with
	// ErrConfiguration before any network call.
	Get(name string) (Trader, error)

	// GetDefault returns the adapter for the configured default exchange.
	GetDefault() (Trader, error)

	// ListEnabled returns the names of all enabled exchanges.
	ListEnabled() []string

	// Close releases all live adapters and their connections.
	Close() error
}
