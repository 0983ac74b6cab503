// Package symbols translates between canonical BASE/QUOTE symbols and
// exchange-native formats, and applies per-exchange precision rules.
// Pure translation: no I/O.
package symbols

import (
	"strings"

	"github.com/shopspring/decimal"

	"alphatrader/internal/adapters/exchanges"
	"alphatrader/pkg/errors"
)

// Rule holds the native symbol and trading constraints for one canonical
// symbol on one exchange.
type Rule struct {
	Native            string
	QuantityPrecision int32
	PricePrecision    int32
	TickSize          decimal.Decimal // derived from PricePrecision when zero
	MinQuantity       decimal.Decimal
	MinNotional       decimal.Decimal
	MaxLeverage       int
}

// Table is the bidirectional symbol mapping for a single exchange, built
// once from configuration and immutable afterwards.
type Table struct {
	exchange    string
	byCanonical map[string]Rule
	byNative    map[string]string
	orderTypes  map[exchanges.OrderType]string
	tifs        map[exchanges.TimeInForce]string
}

// NewTable builds a mapping table. Canonical symbols must be BASE/QUOTE;
// native symbols must be unique within the table.
func NewTable(
	exchange string,
	rules map[string]Rule,
	orderTypes map[exchanges.OrderType]string,
	tifs map[exchanges.TimeInForce]string,
) (*Table, error) {
	if exchange == "" {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "empty exchange name in symbol table")
	}

	t := &Table{
		exchange:    exchange,
		byCanonical: make(map[string]Rule, len(rules)),
		byNative:    make(map[string]string, len(rules)),
		orderTypes:  orderTypes,
		tifs:        tifs,
	}

	for canonical, rule := range rules {
		if !strings.Contains(canonical, "/") {
			return nil, errors.Wrapf(exchanges.ErrConfiguration,
				"canonical symbol %q is not BASE/QUOTE", canonical)
		}
		if rule.Native == "" {
			return nil, errors.Wrapf(exchanges.ErrConfiguration,
				"no native symbol for %s on %s", canonical, exchange)
		}
		if prev, dup := t.byNative[rule.Native]; dup {
			return nil, errors.Wrapf(exchanges.ErrConfiguration,
				"native symbol %q mapped to both %s and %s", rule.Native, prev, canonical)
		}
		t.byCanonical[canonical] = rule
		t.byNative[rule.Native] = canonical
	}

	return t, nil
}

// Exchange returns the exchange this table belongs to.
func (t *Table) Exchange() string {
	return t.exchange
}

// Symbols returns all canonical symbols in the table.
func (t *Table) Symbols() []string {
	out := make([]string, 0, len(t.byCanonical))
	for canonical := range t.byCanonical {
		out = append(out, canonical)
	}
	return out
}

// Has reports whether the canonical symbol is mapped. Never errors.
func (t *Table) Has(canonical string) bool {
	_, ok := t.byCanonical[canonical]
	return ok
}

// ToNative resolves a canonical symbol to the exchange-native string.
// A lookup miss is a hard error: passing the canonical string through
// unchanged would silently produce wrong-exchange orders.
func (t *Table) ToNative(canonical string) (string, error) {
	rule, ok := t.byCanonical[canonical]
	if !ok {
		return "", errors.Wrapf(exchanges.ErrUnsupportedSymbol,
			"%s has no mapping for %s", t.exchange, canonical)
	}
	return rule.Native, nil
}

// ToCanonical resolves an exchange-native symbol back to canonical form.
func (t *Table) ToCanonical(native string) (string, error) {
	canonical, ok := t.byNative[native]
	if !ok {
		return "", errors.Wrapf(exchanges.ErrUnsupportedSymbol,
			"%s has no canonical symbol for native %q", t.exchange, native)
	}
	return canonical, nil
}

// Rule returns the trading constraints for a canonical symbol.
func (t *Table) Rule(canonical string) (Rule, error) {
	rule, ok := t.byCanonical[canonical]
	if !ok {
		return Rule{}, errors.Wrapf(exchanges.ErrUnsupportedSymbol,
			"%s has no mapping for %s", t.exchange, canonical)
	}
	return rule, nil
}

// RoundQuantity truncates quantity to the exchange's declared precision,
// rounding toward zero so the result never exceeds the requested amount.
// Fails when the truncated quantity is zero or below the exchange minimum.
func (t *Table) RoundQuantity(canonical string, quantity decimal.Decimal) (decimal.Decimal, error) {
	rule, err := t.Rule(canonical)
	if err != nil {
		return decimal.Zero, err
	}

	rounded := quantity.Truncate(rule.QuantityPrecision)
	if rounded.IsZero() || rounded.IsNegative() {
		return decimal.Zero, errors.Wrapf(exchanges.ErrInvalidOrderParams,
			"quantity %s rounds to zero at %d decimals on %s",
			quantity, rule.QuantityPrecision, t.exchange)
	}
	if !rule.MinQuantity.IsZero() && rounded.LessThan(rule.MinQuantity) {
		return decimal.Zero, errors.Wrapf(exchanges.ErrInvalidOrderParams,
			"quantity %s below %s minimum %s", rounded, t.exchange, rule.MinQuantity)
	}
	return rounded, nil
}

// CheckNotional verifies quantity*price against the exchange's minimum
// notional. Requires the current (or limit) price.
func (t *Table) CheckNotional(canonical string, quantity, price decimal.Decimal) error {
	rule, err := t.Rule(canonical)
	if err != nil {
		return err
	}
	if rule.MinNotional.IsZero() {
		return nil
	}

	notional := quantity.Mul(price)
	if notional.LessThan(rule.MinNotional) {
		return errors.Wrapf(exchanges.ErrInvalidOrderParams,
			"notional %s below %s minimum %s", notional, t.exchange, rule.MinNotional)
	}
	return nil
}

// RoundPrice rounds price to the nearest tick.
func (t *Table) RoundPrice(canonical string, price decimal.Decimal) (decimal.Decimal, error) {
	rule, err := t.Rule(canonical)
	if err != nil {
		return decimal.Zero, err
	}

	tick := rule.TickSize
	if tick.IsZero() {
		tick = decimal.New(1, -rule.PricePrecision)
	}
	return price.Div(tick).Round(0).Mul(tick), nil
}

// FormatQuantity renders a rounded quantity as the fixed-precision string
// the exchange wire format expects.
func (t *Table) FormatQuantity(canonical string, quantity decimal.Decimal) (string, error) {
	rounded, err := t.RoundQuantity(canonical, quantity)
	if err != nil {
		return "", err
	}
	rule, _ := t.Rule(canonical)
	return rounded.StringFixed(rule.QuantityPrecision), nil
}

// FormatPrice renders a tick-rounded price as a fixed-precision string.
func (t *Table) FormatPrice(canonical string, price decimal.Decimal) (string, error) {
	rounded, err := t.RoundPrice(canonical, price)
	if err != nil {
		return "", err
	}
	rule, _ := t.Rule(canonical)
	return rounded.StringFixed(rule.PricePrecision), nil
}

// MapOrderType translates the canonical order type to the exchange string.
// Unsupported combinations fail rather than degrade silently.
func (t *Table) MapOrderType(orderType exchanges.OrderType) (string, error) {
	native, ok := t.orderTypes[orderType]
	if !ok {
		return "", errors.Wrapf(exchanges.ErrInvalidOrderParams,
			"order type %s not supported on %s", orderType, t.exchange)
	}
	return native, nil
}

// MapTimeInForce translates the canonical time-in-force to the exchange
// string.
func (t *Table) MapTimeInForce(tif exchanges.TimeInForce) (string, error) {
	native, ok := t.tifs[tif]
	if !ok {
		return "", errors.Wrapf(exchanges.ErrInvalidOrderParams,
			"time in force %s not supported on %s", tif, t.exchange)
	}
	return native, nil
}

// MaxLeverage returns the configured leverage ceiling for a symbol, or
// zero when the symbol is unmapped or carries no ceiling.
func (t *Table) MaxLeverage(canonical string) int {
	rule, ok := t.byCanonical[canonical]
	if !ok {
		return 0
	}
	return rule.MaxLeverage
}
