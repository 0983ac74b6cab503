package exchanges

import (
	"time"

	"github.com/shopspring/decimal"

	"alphatrader/pkg/errors"
)

// OrderSide defines buy or sell direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// PositionSide differentiates long and short exposure.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// OrderType defines supported order execution types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// OrderStatus enumerates the lifecycle states reported in OrderResult.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusPartial   OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// TimeInForce enumerates supported order time policies.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// MarginMode defines futures margin configuration.
type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

// HealthState classifies the outcome of a health check.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

// OrderIntent is the unified payload for opening a position. Symbols are
// canonical (BASE/QUOTE); adapters translate to native format.
type OrderIntent struct {
	Symbol          string
	Quantity        decimal.Decimal
	Leverage        int
	Type            OrderType
	Price           decimal.Decimal // required for LIMIT orders
	TriggerPrice    decimal.Decimal // required for STOP_MARKET/STOP_LIMIT orders
	StopLossPrice   decimal.Decimal // optional protective stop
	TakeProfitPrice decimal.Decimal // optional profit target
	TimeInForce     TimeInForce
	ClientOrderID   string
}

// OrderResult is the immutable record of a single trading call. RawData
// carries the exchange's original response for audit and debugging.
type OrderResult struct {
	Symbol           string
	OrderID          string
	ClientOrderID    string
	Side             OrderSide
	Type             OrderType
	Quantity         decimal.Decimal
	Price            decimal.Decimal // zero for market orders
	ExecutedQuantity decimal.Decimal
	ExecutedPrice    decimal.Decimal
	Status           OrderStatus
	Fees             decimal.Decimal
	Exchange         string
	Timestamp        time.Time
	RawData          map[string]interface{}
}

// Validate enforces the OrderResult invariants. Adapters call it before
// returning a result to the caller.
func (r *OrderResult) Validate() error {
	if r.Quantity.IsNegative() || r.ExecutedQuantity.IsNegative() {
		return errors.Wrap(errors.ErrInternal, "negative quantity in order result")
	}
	if r.ExecutedQuantity.GreaterThan(r.Quantity) {
		return errors.Wrapf(errors.ErrInternal,
			"executed quantity %s exceeds requested %s", r.ExecutedQuantity, r.Quantity)
	}
	if r.ExecutedQuantity.IsPositive() &&
		r.Status != OrderStatusFilled && r.Status != OrderStatusPartial {
		return errors.Wrapf(errors.ErrInternal,
			"executed quantity %s with status %s", r.ExecutedQuantity, r.Status)
	}
	return nil
}

// Position represents current open exposure on one symbol. Pull model: it is
// re-fetched on demand and never cached by this layer.
type Position struct {
	Symbol           string
	Side             PositionSide
	Size             decimal.Decimal // always > 0
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         decimal.Decimal
	MarginUsed       decimal.Decimal
	MarginMode       MarginMode
	Exchange         string
	LiquidationPrice decimal.Decimal // zero when the exchange does not report it
	PositionID       string          // exchange-specific, may be empty
	Timestamp        time.Time
}

// Balance is an account-level snapshot.
type Balance struct {
	TotalBalance     decimal.Decimal
	AvailableBalance decimal.Decimal
	MarginBalance    decimal.Decimal // total + unrealized PnL
	UnrealizedPnL    decimal.Decimal
	MarginUsed       decimal.Decimal
	Currency         string
	Exchange         string
	CanTrade         bool
	AccountType      string
	Timestamp        time.Time
}

// Validate enforces the Balance invariants.
func (b *Balance) Validate() error {
	if b.AvailableBalance.GreaterThan(b.TotalBalance) {
		return errors.Wrapf(errors.ErrInternal,
			"available balance %s exceeds total %s", b.AvailableBalance, b.TotalBalance)
	}
	return nil
}

// TradingFees holds maker/taker fee rates for one symbol.
type TradingFees struct {
	MakerFee decimal.Decimal // 0.0002 = 0.02%
	TakerFee decimal.Decimal
	Currency string
}

// HealthStatus is the outcome of a health check. It never carries an error
// value: failures are classified internally and reported as a state.
type HealthStatus struct {
	Status       HealthState
	Exchange     string
	ResponseTime time.Duration
	Error        string // empty when healthy
	Timestamp    time.Time
}
