package symbols

import (
	"github.com/shopspring/decimal"

	"alphatrader/internal/adapters/exchanges"
)

// Built-in mapping tables for the supported exchanges. Precision and
// minimum rules mirror the exchanges' published contract specs; leverage
// ceilings are conservative defaults that configuration may lower further.

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// BinanceFuturesRules returns the default canonical -> BTCUSDT-style
// mapping for Binance USDT-margined perpetuals.
func BinanceFuturesRules() map[string]Rule {
	return map[string]Rule{
		"BTC/USDT": {Native: "BTCUSDT", QuantityPrecision: 3, PricePrecision: 2, TickSize: dec("0.10"), MinQuantity: dec("0.001"), MinNotional: dec("5"), MaxLeverage: 125},
		"ETH/USDT": {Native: "ETHUSDT", QuantityPrecision: 3, PricePrecision: 2, TickSize: dec("0.01"), MinQuantity: dec("0.001"), MinNotional: dec("5"), MaxLeverage: 100},
		"SOL/USDT": {Native: "SOLUSDT", QuantityPrecision: 1, PricePrecision: 3, TickSize: dec("0.001"), MinQuantity: dec("0.1"), MinNotional: dec("5"), MaxLeverage: 50},
		"BNB/USDT": {Native: "BNBUSDT", QuantityPrecision: 2, PricePrecision: 2, TickSize: dec("0.01"), MinQuantity: dec("0.01"), MinNotional: dec("5"), MaxLeverage: 50},
		"XRP/USDT": {Native: "XRPUSDT", QuantityPrecision: 1, PricePrecision: 4, TickSize: dec("0.0001"), MinQuantity: dec("0.1"), MinNotional: dec("5"), MaxLeverage: 50},
	}
}

// BinanceFuturesOrderTypes maps canonical order types to the fapi strings.
func BinanceFuturesOrderTypes() map[exchanges.OrderType]string {
	return map[exchanges.OrderType]string{
		exchanges.OrderTypeMarket:     "MARKET",
		exchanges.OrderTypeLimit:      "LIMIT",
		exchanges.OrderTypeStopMarket: "STOP_MARKET",
		exchanges.OrderTypeStopLimit:  "STOP",
	}
}

// BinanceFuturesTIFs maps canonical time-in-force values.
func BinanceFuturesTIFs() map[exchanges.TimeInForce]string {
	return map[exchanges.TimeInForce]string{
		exchanges.TimeInForceGTC: "GTC",
		exchanges.TimeInForceIOC: "IOC",
		exchanges.TimeInForceFOK: "FOK",
	}
}

// HyperliquidRules returns the default canonical -> coin mapping for
// Hyperliquid perpetuals. Native symbols are bare coin names.
func HyperliquidRules() map[string]Rule {
	return map[string]Rule{
		"BTC/USDT": {Native: "BTC", QuantityPrecision: 5, PricePrecision: 0, TickSize: dec("1"), MinQuantity: dec("0.0001"), MinNotional: dec("10"), MaxLeverage: 40},
		"ETH/USDT": {Native: "ETH", QuantityPrecision: 4, PricePrecision: 1, TickSize: dec("0.1"), MinQuantity: dec("0.001"), MinNotional: dec("10"), MaxLeverage: 25},
		"SOL/USDT": {Native: "SOL", QuantityPrecision: 2, PricePrecision: 3, TickSize: dec("0.001"), MinQuantity: dec("0.01"), MinNotional: dec("10"), MaxLeverage: 20},
	}
}

// HyperliquidOrderTypes maps canonical order types. Stop orders are not
// part of the supported surface, so requesting one fails mapping.
func HyperliquidOrderTypes() map[exchanges.OrderType]string {
	return map[exchanges.OrderType]string{
		exchanges.OrderTypeMarket: "market",
		exchanges.OrderTypeLimit:  "limit",
	}
}

// HyperliquidTIFs maps canonical time-in-force values.
func HyperliquidTIFs() map[exchanges.TimeInForce]string {
	return map[exchanges.TimeInForce]string{
		exchanges.TimeInForceGTC: "Gtc",
		exchanges.TimeInForceIOC: "Ioc",
	}
}

// FilterRules restricts a rule set to the given canonical symbols. An
// empty list keeps the full set.
func FilterRules(rules map[string]Rule, symbols []string) map[string]Rule {
	if len(symbols) == 0 {
		return rules
	}
	out := make(map[string]Rule, len(symbols))
	for _, canonical := range symbols {
		if rule, ok := rules[canonical]; ok {
			out[canonical] = rule
		}
	}
	return out
}
