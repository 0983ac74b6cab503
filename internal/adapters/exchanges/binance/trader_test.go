package binance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	"alphatrader/internal/adapters/credentials"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/internal/adapters/exchanges/symbols"
	"alphatrader/pkg/errors"
)

func testBundle() *credentials.Bundle {
	return &credentials.Bundle{
		Exchange:  Name,
		Auth:      credentials.AuthAPIKeySecret,
		APIKey:    "0123456789abcdef0123",
		SecretKey: "fedcba98765432100123",
	}
}

func testTable(t *testing.T) *symbols.Table {
	t.Helper()
	table, err := symbols.NewTable(Name, symbols.BinanceFuturesRules(), symbols.BinanceFuturesOrderTypes(), symbols.BinanceFuturesTIFs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return table
}

// newTestTrader wires a trader against a stub server and returns a
// counter of requests the server saw.
func newTestTrader(t *testing.T, handler http.Handler) (exchanges.Trader, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	trader, err := New(Config{
		Credentials: testBundle(),
		BaseURL:     server.URL,
		Table:       testTable(t),
		MaxLeverage: 20,
		MakerFee:    decimal.RequireFromString("0.0002"),
		TakerFee:    decimal.RequireFromString("0.0004"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return trader, &calls
}

func jsonHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{Table: testTable(t)})
	if !errors.Is(err, exchanges.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenLongRejectsExcessiveLeverageLocally(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Leverage: 100,
	})
	if !errors.Is(err, exchanges.ErrRiskLimitExceeded) {
		t.Fatalf("expected risk limit error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("leverage must be rejected without network calls, saw %d", calls.Load())
	}
}

func TestOpenLongRejectsTinyQuantityLocally(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.0001"),
		Leverage: 2,
	})
	if !errors.Is(err, exchanges.ErrInvalidOrderParams) {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("quantity must be rejected without network calls, saw %d", calls.Load())
	}
}

func TestOpenLongRejectsUnknownSymbolLocally(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "DOGE/TRY",
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, exchanges.ErrUnsupportedSymbol) {
		t.Fatalf("expected unsupported symbol error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("symbol must be rejected without network calls, saw %d", calls.Load())
	}
}

func TestOpenLongLimitRequiresPrice(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Type:     exchanges.OrderTypeLimit,
	})
	if !errors.Is(err, exchanges.ErrInvalidOrderParams) {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("missing price must be rejected without network calls, saw %d", calls.Load())
	}
}

func TestOpenShortStopRequiresTriggerPrice(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	_, err := trader.OpenShort(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Type:     exchanges.OrderTypeStopMarket,
	})
	if !errors.Is(err, exchanges.ErrInvalidOrderParams) {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("missing trigger price must be rejected without network calls, saw %d", calls.Load())
	}
}

func TestOpenShortStopMarketSendsTriggerPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64000.00"}`))
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"leverage":2,"symbol":"BTCUSDT"}`))
	})
	var orderParams url.Values
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		orderParams = readOrderParams(t, r)
		_, _ = w.Write([]byte(`{"orderId":77,"status":"NEW","origQty":"0.010","executedQty":"0"}`))
	})

	trader, _ := newTestTrader(t, mux)

	result, err := trader.OpenShort(context.Background(), exchanges.OrderIntent{
		Symbol:       "BTC/USDT",
		Quantity:     decimal.RequireFromString("0.01"),
		Leverage:     2,
		Type:         exchanges.OrderTypeStopMarket,
		TriggerPrice: decimal.RequireFromString("62500.47"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != exchanges.OrderStatusNew {
		t.Fatalf("unexpected status %s", result.Status)
	}

	if orderParams == nil {
		t.Fatal("order endpoint was not called")
	}
	if got := orderParams.Get("type"); got != "STOP_MARKET" {
		t.Fatalf("expected STOP_MARKET in signed body, got %q", got)
	}
	// Trigger price is rounded to the symbol tick before sending.
	if got := orderParams.Get("stopPrice"); got != "62500.40" {
		t.Fatalf("unexpected stopPrice %q", got)
	}
}

func TestOpenLongMarketOrder(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64000.00"}`))
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"leverage":3,"symbol":"BTCUSDT"}`))
	})
	var orderParams url.Values
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		orderParams = readOrderParams(t, r)
		_, _ = w.Write([]byte(`{
			"orderId": 123456,
			"clientOrderId": "at-abc",
			"status": "FILLED",
			"avgPrice": "64010.50",
			"origQty": "0.010",
			"executedQty": "0.010",
			"updateTime": 1700000000000
		}`))
	})

	trader, _ := newTestTrader(t, mux)

	result, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Leverage: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.OrderID != "123456" {
		t.Fatalf("unexpected order id %s", result.OrderID)
	}
	if result.Status != exchanges.OrderStatusFilled {
		t.Fatalf("unexpected status %s", result.Status)
	}
	if result.Symbol != "BTC/USDT" {
		t.Fatalf("result must carry the canonical symbol, got %s", result.Symbol)
	}
	if !result.ExecutedQuantity.Equal(decimal.RequireFromString("0.010")) {
		t.Fatalf("unexpected executed quantity %s", result.ExecutedQuantity)
	}
	if !result.ExecutedPrice.Equal(decimal.RequireFromString("64010.50")) {
		t.Fatalf("unexpected executed price %s", result.ExecutedPrice)
	}
	if result.Exchange != Name {
		t.Fatalf("unexpected exchange %s", result.Exchange)
	}

	if orderParams == nil {
		t.Fatal("order endpoint was not called")
	}
	if got := orderParams.Get("type"); got != "MARKET" {
		t.Fatalf("expected MARKET order type in signed body, got %q", got)
	}
	if got := orderParams.Get("quantity"); got != "0.010" {
		t.Fatalf("expected formatted quantity in signed body, got %q", got)
	}
	if orderParams.Get("signature") == "" {
		t.Fatal("signed request body must carry a signature")
	}
}

// Signed requests carry their parameters in the POST body.
func readOrderParams(t *testing.T, r *http.Request) url.Values {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return params
}

func TestAuthenticationErrorMapping(t *testing.T) {
	trader, _ := newTestTrader(t, jsonHandler(http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key"}`))

	_, err := trader.GetBalance(context.Background())
	if !errors.Is(err, exchanges.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}

	var apiErr *exchanges.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != -2015 {
		t.Fatalf("unexpected code %d", apiErr.Code)
	}
}

func TestRateLimitErrorMapping(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusTooManyRequests, `{"code":-1003,"msg":"Too many requests"}`))

	_, err := trader.GetBalance(context.Background())
	if !errors.Is(err, exchanges.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	// Read-only calls retry transient failures before giving up.
	if calls.Load() < 2 {
		t.Fatalf("expected retries for rate limited read, saw %d calls", calls.Load())
	}
}

func TestOrderRejectionIsNotRetried(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64000.00"}`))
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	var orderCalls atomic.Int64
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		orderCalls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient"}`))
	})

	trader, _ := newTestTrader(t, mux)

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Leverage: 2,
	})
	if !errors.Is(err, exchanges.ErrOrderRejected) {
		t.Fatalf("expected order rejected error, got %v", err)
	}
	if orderCalls.Load() != 1 {
		t.Fatalf("order placement must never be retried, saw %d calls", orderCalls.Load())
	}
}

func TestCloseLongWithoutPositionFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	trader, _ := newTestTrader(t, mux)

	_, err := trader.CloseLong(context.Background(), "BTC/USDT", decimal.Zero)
	if !errors.Is(err, exchanges.ErrInvalidOrderParams) {
		t.Fatalf("expected invalid params error, got %v", err)
	}
}

func TestCloseLongUsesPositionSize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"symbol": "BTCUSDT",
			"positionAmt": "0.250",
			"entryPrice": "60000",
			"markPrice": "64000",
			"unRealizedProfit": "1000",
			"liquidationPrice": "30000",
			"leverage": "3",
			"marginType": "cross"
		}]`))
	})
	var orderParams url.Values
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		orderParams = readOrderParams(t, r)
		_, _ = w.Write([]byte(`{
			"orderId": 99,
			"status": "FILLED",
			"avgPrice": "64000",
			"origQty": "0.250",
			"executedQty": "0.250"
		}`))
	})

	trader, _ := newTestTrader(t, mux)

	result, err := trader.CloseLong(context.Background(), "BTC/USDT", decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Quantity.Equal(decimal.RequireFromString("0.250")) {
		t.Fatalf("expected full position size, got %s", result.Quantity)
	}
	if result.Side != exchanges.OrderSideSell {
		t.Fatalf("closing a long must sell, got %s", result.Side)
	}
	if orderParams == nil {
		t.Fatal("order endpoint was not called")
	}
	if got := orderParams.Get("quantity"); got != "0.250" {
		t.Fatalf("expected full position size in signed body, got %q", got)
	}
	if got := orderParams.Get("reduceOnly"); got != "true" {
		t.Fatalf("closing order must be reduce only, got %q", got)
	}
}

func TestGetPositionsSkipsUnmappedSymbols(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/positionRisk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","positionAmt":"-0.5","entryPrice":"60000","markPrice":"59000","unRealizedProfit":"500","liquidationPrice":"90000","leverage":"2","marginType":"isolated"},
			{"symbol":"OBSCUREUSDT","positionAmt":"10","entryPrice":"1","markPrice":"1","unRealizedProfit":"0","liquidationPrice":"0","leverage":"1","marginType":"cross"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","markPrice":"0","unRealizedProfit":"0","liquidationPrice":"0","leverage":"1","marginType":"cross"}
		]`))
	})

	trader, _ := newTestTrader(t, mux)

	positions, err := trader.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}

	p := positions[0]
	if p.Symbol != "BTC/USDT" {
		t.Fatalf("expected canonical symbol, got %s", p.Symbol)
	}
	if p.Side != exchanges.PositionSideShort {
		t.Fatalf("negative size must map to short, got %s", p.Side)
	}
	if !p.Size.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("size must be reported positive, got %s", p.Size)
	}
	if p.MarginMode != exchanges.MarginIsolated {
		t.Fatalf("unexpected margin mode %s", p.MarginMode)
	}
}

func TestGetBalance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/balance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") == "" {
			t.Error("balance request must carry the api key header")
		}
		_, _ = w.Write([]byte(`[
			{"asset":"USDT","balance":"1000.50","availableBalance":"800.25","crossUnPnl":"12.00"},
			{"asset":"BNB","balance":"5","availableBalance":"5","crossUnPnl":"0"}
		]`))
	})

	trader, _ := newTestTrader(t, mux)

	balance, err := trader.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.TotalBalance.Equal(decimal.RequireFromString("1000.50")) {
		t.Fatalf("unexpected total %s", balance.TotalBalance)
	}
	if !balance.AvailableBalance.Equal(decimal.RequireFromString("800.25")) {
		t.Fatalf("unexpected available %s", balance.AvailableBalance)
	}
	if balance.Currency != "USDT" {
		t.Fatalf("unexpected currency %s", balance.Currency)
	}
}

func TestGetMarketPricePrefersPriceSource(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(server.Close)

	trader, err := New(Config{
		Credentials: testBundle(),
		BaseURL:     server.URL,
		Table:       testTable(t),
		PriceSource: staticPrices{"BTCUSDT": decimal.RequireFromString("65000")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	price, err := trader.GetMarketPrice(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("65000")) {
		t.Fatalf("unexpected price %s", price)
	}
	if calls.Load() != 0 {
		t.Fatalf("cached price must avoid REST, saw %d calls", calls.Load())
	}
}

type staticPrices map[string]decimal.Decimal

func (p staticPrices) Price(symbol string) (decimal.Decimal, bool) {
	price, ok := p[symbol]
	return price, ok
}

func TestSetMarginModeAlreadySetIsSuccess(t *testing.T) {
	trader, _ := newTestTrader(t, jsonHandler(http.StatusBadRequest, `{"code":-4046,"msg":"No need to change margin type."}`))

	if err := trader.SetMarginMode(context.Background(), "BTC/USDT", exchanges.MarginCross); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy, _ := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))
	status := healthy.HealthCheck(context.Background())
	if status.Status != exchanges.HealthHealthy {
		t.Fatalf("expected healthy, got %s (%s)", status.Status, status.Error)
	}
	if status.Exchange != Name {
		t.Fatalf("unexpected exchange %s", status.Exchange)
	}

	broken, err := New(Config{
		Credentials: testBundle(),
		BaseURL:     "http://127.0.0.1:1",
		Table:       testTable(t),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status = broken.HealthCheck(context.Background())
	if status.Status != exchanges.HealthUnreachable {
		t.Fatalf("expected unreachable, got %s", status.Status)
	}
	if status.Error == "" {
		t.Fatal("unreachable status must carry the failure")
	}
}

func TestValidateSymbolNeverErrors(t *testing.T) {
	trader, calls := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	if !trader.ValidateSymbol("BTC/USDT") {
		t.Fatal("BTC/USDT should be valid")
	}
	if trader.ValidateSymbol("DOGE/TRY") {
		t.Fatal("DOGE/TRY should be invalid")
	}
	if calls.Load() != 0 {
		t.Fatalf("symbol validation must be local, saw %d calls", calls.Load())
	}
}

func TestFormatHelpers(t *testing.T) {
	trader, _ := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	qty, err := trader.FormatQuantity("BTC/USDT", decimal.RequireFromString("0.0199"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qty != "0.019" {
		t.Fatalf("expected 0.019, got %s", qty)
	}

	price, err := trader.FormatPrice("BTC/USDT", decimal.RequireFromString("64123.44"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != "64123.40" {
		t.Fatalf("expected 64123.40, got %s", price)
	}
}

func TestGetTradingFees(t *testing.T) {
	trader, _ := newTestTrader(t, jsonHandler(http.StatusOK, `{}`))

	fees, err := trader.GetTradingFees("BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fees.TakerFee.Equal(decimal.RequireFromString("0.0004")) {
		t.Fatalf("unexpected taker fee %s", fees.TakerFee)
	}

	if _, err := trader.GetTradingFees("DOGE/TRY"); !errors.Is(err, exchanges.ErrUnsupportedSymbol) {
		t.Fatalf("expected unsupported symbol error, got %v", err)
	}
}
