package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"alphatrader/internal/adapters/credentials"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/internal/adapters/exchanges/symbols"
	"alphatrader/pkg/errors"
)

const (
	testAddress    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

func testBundle() *credentials.Bundle {
	return &credentials.Bundle{
		Exchange:      Name,
		Auth:          credentials.AuthWalletPrivateKey,
		WalletAddress: testAddress,
		PrivateKey:    testPrivateKey,
	}
}

func testTable(t *testing.T) *symbols.Table {
	t.Helper()
	table, err := symbols.NewTable(Name, symbols.HyperliquidRules(), symbols.HyperliquidOrderTypes(), symbols.HyperliquidTIFs())
	require.NoError(t, err)
	return table
}

// infoHandler answers /info requests by request type, mirroring the real
// endpoint's dispatch.
func infoHandler(t *testing.T, responses map[string]string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
			return
		}
		var req struct {
			Type string `json:"type"`
			User string `json:"user"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request body: %v", err)
			return
		}
		response, ok := responses[req.Type]
		if !ok {
			t.Errorf("unexpected info request type %q", req.Type)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})
}

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
		MaxLeverage: 10,
		MakerFee:    decimal.RequireFromString("0.0001"),
		TakerFee:    decimal.RequireFromString("0.00035"),
	})
	require.NoError(t, err)
	return trader, &calls
}

const clearinghouseResponse = `{
	"marginSummary": {"accountValue": "2500.75", "totalMarginUsed": "410.00"},
	"withdrawable": "2000.25",
	"assetPositions": [
		{"position": {
			"coin": "BTC",
			"szi": "0.15",
			"entryPx": "60000",
			"positionValue": "9600",
			"unrealizedPnl": "600.50",
			"liquidationPx": "41000",
			"marginUsed": "400",
			"leverage": {"type": "cross", "value": 5}
		}},
		{"position": {
			"coin": "ETH",
			"szi": "0",
			"entryPx": "0",
			"unrealizedPnl": "0",
			"liquidationPx": "0",
			"marginUsed": "0",
			"leverage": {"type": "cross", "value": 1}
		}}
	]
}`

func TestNewRequiresWalletCredentials(t *testing.T) {
	_, err := New(Config{
		Credentials: &credentials.Bundle{Exchange: Name, Auth: credentials.AuthAPIKeySecret},
		Table:       testTable(t),
	})
	require.ErrorIs(t, err, exchanges.ErrConfiguration)
}

func TestGetBalance(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{
		"clearinghouseState": clearinghouseResponse,
	}))

	balance, err := trader.GetBalance(context.Background())
	require.NoError(t, err)

	require.True(t, balance.TotalBalance.Equal(decimal.RequireFromString("2500.75")), "total %s", balance.TotalBalance)
	require.True(t, balance.AvailableBalance.Equal(decimal.RequireFromString("2000.25")), "available %s", balance.AvailableBalance)
	require.True(t, balance.MarginUsed.Equal(decimal.RequireFromString("410.00")), "margin used %s", balance.MarginUsed)
	require.True(t, balance.UnrealizedPnL.Equal(decimal.RequireFromString("600.50")), "unrealized pnl %s", balance.UnrealizedPnL)
	require.Equal(t, "USDC", balance.Currency)
	require.Equal(t, Name, balance.Exchange)
}

func TestGetPositionsSkipsFlatEntries(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{
		"clearinghouseState": clearinghouseResponse,
	}))

	positions, err := trader.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	require.Equal(t, "BTC/USDT", p.Symbol)
	require.Equal(t, exchanges.PositionSideLong, p.Side)
	require.True(t, p.Size.Equal(decimal.RequireFromString("0.15")), "size %s", p.Size)
	require.Equal(t, exchanges.MarginCross, p.MarginMode)
	require.True(t, p.Leverage.Equal(decimal.NewFromInt(5)), "leverage %s", p.Leverage)
	require.True(t, p.LiquidationPrice.Equal(decimal.NewFromInt(41000)), "liquidation %s", p.LiquidationPrice)
}

func TestGetMarketPrice(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{
		"allMids": `{"BTC": "64250.0", "ETH": "3200.5"}`,
	}))

	price, err := trader.GetMarketPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("64250.0")), "price %s", price)

	_, err = trader.GetMarketPrice(context.Background(), "SOL/USDT")
	require.ErrorIs(t, err, exchanges.ErrUnsupportedSymbol)
}

func TestGetMarketPriceUnknownSymbolIsLocal(t *testing.T) {
	trader, calls := newTestTrader(t, infoHandler(t, map[string]string{}))

	_, err := trader.GetMarketPrice(context.Background(), "DOGE/TRY")
	require.ErrorIs(t, err, exchanges.ErrUnsupportedSymbol)
	require.Zero(t, calls.Load(), "unknown symbols must fail before the network")
}

func TestOpenLongLocalValidation(t *testing.T) {
	tests := []struct {
		name    string
		intent  exchanges.OrderIntent
		wantErr error
	}{
		{
			name:    "unknown symbol",
			intent:  exchanges.OrderIntent{Symbol: "DOGE/TRY", Quantity: decimal.NewFromInt(1)},
			wantErr: exchanges.ErrUnsupportedSymbol,
		},
		{
			name:    "stop orders not mapped",
			intent:  exchanges.OrderIntent{Symbol: "BTC/USDT", Quantity: decimal.RequireFromString("0.01"), Type: exchanges.OrderTypeStopMarket},
			wantErr: exchanges.ErrInvalidOrderParams,
		},
		{
			name:    "quantity below minimum",
			intent:  exchanges.OrderIntent{Symbol: "BTC/USDT", Quantity: decimal.RequireFromString("0.00001")},
			wantErr: exchanges.ErrInvalidOrderParams,
		},
		{
			name:    "leverage above maximum",
			intent:  exchanges.OrderIntent{Symbol: "BTC/USDT", Quantity: decimal.RequireFromString("0.01"), Leverage: 50},
			wantErr: exchanges.ErrRiskLimitExceeded,
		},
		{
			name:    "limit without price",
			intent:  exchanges.OrderIntent{Symbol: "BTC/USDT", Quantity: decimal.RequireFromString("0.01"), Type: exchanges.OrderTypeLimit},
			wantErr: exchanges.ErrInvalidOrderParams,
		},
		{
			name:    "limit below min notional",
			intent:  exchanges.OrderIntent{Symbol: "BTC/USDT", Quantity: decimal.RequireFromString("0.0001"), Type: exchanges.OrderTypeLimit, Price: decimal.NewFromInt(50000)},
			wantErr: exchanges.ErrInvalidOrderParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trader, calls := newTestTrader(t, infoHandler(t, map[string]string{}))

			_, err := trader.OpenLong(context.Background(), tt.intent)
			require.ErrorIs(t, err, tt.wantErr)
			require.Zero(t, calls.Load(), "validation must fail before the network")
		})
	}
}

const metaResponse = `{
	"universe": [
		{"name": "BTC", "szDecimals": 5, "maxLeverage": 50, "marginTableId": 1},
		{"name": "ETH", "szDecimals": 4, "maxLeverage": 50, "marginTableId": 1}
	],
	"marginTables": []
}`

// exchangeAction is the superset of signed action payloads the stub
// server needs to inspect.
type exchangeAction struct {
	Type     string `json:"type"`
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
	Cancels []struct {
		Asset   int   `json:"a"`
		OrderID int64 `json:"o"`
	} `json:"cancels"`
	Orders []struct {
		Asset      int     `json:"a"`
		IsBuy      bool    `json:"b"`
		Price      string  `json:"p"`
		Size       string  `json:"s"`
		ReduceOnly bool    `json:"r"`
		Cloid      *string `json:"c"`
	} `json:"orders"`
}

// signedTestTrader wires a trader against a stub serving both /info and
// /exchange, recording every signed action and answering each action
// type with the given body.
func signedTestTrader(t *testing.T, infoResponses map[string]string, exchangeResponses map[string]string) (exchanges.Trader, *[]exchangeAction) {
	t.Helper()

	actions := &[]exchangeAction{}
	mux := http.NewServeMux()
	mux.Handle("/info", infoHandler(t, infoResponses))
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read exchange request: %v", err)
			return
		}

		var payload struct {
			Action exchangeAction `json:"action"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode exchange request: %v", err)
			return
		}
		*actions = append(*actions, payload.Action)

		response, ok := exchangeResponses[payload.Action.Type]
		if !ok {
			t.Errorf("unexpected exchange action %q", payload.Action.Type)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	trader, err := New(Config{
		Credentials:     testBundle(),
		BaseURL:         server.URL,
		Table:           testTable(t),
		DefaultLeverage: 3,
		MaxLeverage:     10,
	})
	require.NoError(t, err)
	return trader, actions
}

func TestLeverageControlsValidateLocally(t *testing.T) {
	trader, calls := newTestTrader(t, infoHandler(t, map[string]string{}))
	ctx := context.Background()

	err := trader.SetLeverage(ctx, "DOGE/TRY", 5)
	require.ErrorIs(t, err, exchanges.ErrUnsupportedSymbol)

	err = trader.SetLeverage(ctx, "BTC/USDT", 0)
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)

	err = trader.SetLeverage(ctx, "BTC/USDT", 500)
	require.ErrorIs(t, err, exchanges.ErrRiskLimitExceeded)

	err = trader.SetMarginMode(ctx, "BTC/USDT", exchanges.MarginMode("portfolio"))
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)

	err = trader.CancelAllOrders(ctx, "DOGE/TRY")
	require.ErrorIs(t, err, exchanges.ErrUnsupportedSymbol)

	require.Zero(t, calls.Load(), "validation must fail before the network")
}

func TestSetLeverageUpdatesExchange(t *testing.T) {
	trader, actions := signedTestTrader(t,
		map[string]string{"meta": metaResponse},
		map[string]string{"updateLeverage": `{}`},
	)
	ctx := context.Background()

	require.NoError(t, trader.SetLeverage(ctx, "BTC/USDT", 5))

	require.Len(t, *actions, 1)
	action := (*actions)[0]
	require.Equal(t, "updateLeverage", action.Type)
	require.Equal(t, 0, action.Asset)
	require.Equal(t, 5, action.Leverage)
	require.True(t, action.IsCross, "cross is the default margin mode")
}

func TestSetMarginModeRidesOnLeverageUpdate(t *testing.T) {
	trader, actions := signedTestTrader(t,
		map[string]string{"meta": metaResponse},
		map[string]string{"updateLeverage": `{}`},
	)
	ctx := context.Background()

	require.NoError(t, trader.SetLeverage(ctx, "BTC/USDT", 5))
	require.NoError(t, trader.SetMarginMode(ctx, "BTC/USDT", exchanges.MarginIsolated))

	// A later leverage change must keep the recorded isolated mode.
	require.NoError(t, trader.SetLeverage(ctx, "BTC/USDT", 7))

	require.Len(t, *actions, 3)
	require.True(t, (*actions)[0].IsCross)
	require.False(t, (*actions)[1].IsCross)
	require.Equal(t, 5, (*actions)[1].Leverage, "mode change keeps the last applied leverage")
	require.False(t, (*actions)[2].IsCross)
	require.Equal(t, 7, (*actions)[2].Leverage)
}

func TestCancelAllOrdersFiltersByCoin(t *testing.T) {
	trader, actions := signedTestTrader(t,
		map[string]string{
			"meta": metaResponse,
			"openOrders": `[
				{"coin": "BTC", "limitPx": "60000", "oid": 77, "side": "B", "sz": "0.1", "timestamp": 1},
				{"coin": "ETH", "limitPx": "3000", "oid": 88, "side": "A", "sz": "1", "timestamp": 2}
			]`,
		},
		map[string]string{"cancel": `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`},
	)

	require.NoError(t, trader.CancelAllOrders(context.Background(), "BTC/USDT"))

	require.Len(t, *actions, 1)
	action := (*actions)[0]
	require.Equal(t, "cancel", action.Type)
	require.Len(t, action.Cancels, 1)
	require.Equal(t, int64(77), action.Cancels[0].OrderID)
}

func TestCancelAllOrdersNothingOpenSkipsExchange(t *testing.T) {
	trader, actions := signedTestTrader(t,
		map[string]string{
			"meta":       metaResponse,
			"openOrders": `[]`,
		},
		map[string]string{},
	)

	require.NoError(t, trader.CancelAllOrders(context.Background(), "BTC/USDT"))
	require.Empty(t, *actions, "nothing to cancel must not touch the signed endpoint")
}

func TestOpenLongAppliesLeverageAndReportsFill(t *testing.T) {
	trader, actions := signedTestTrader(t,
		map[string]string{
			"meta":    metaResponse,
			"allMids": `{"BTC": "64000"}`,
		},
		map[string]string{
			"updateLeverage": `{}`,
			"order":          `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.005","avgPx":"64050.5","oid":555}}]}}}`,
		},
	)

	result, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:   "BTC/USDT",
		Quantity: decimal.RequireFromString("0.01"),
		Leverage: 5,
	})
	require.NoError(t, err)

	require.Len(t, *actions, 2)
	require.Equal(t, "updateLeverage", (*actions)[0].Type)
	require.Equal(t, 5, (*actions)[0].Leverage)

	order := (*actions)[1]
	require.Equal(t, "order", order.Type)
	require.Len(t, order.Orders, 1)
	require.NotNil(t, order.Orders[0].Cloid, "every order carries a client id")
	require.Equal(t, *order.Orders[0].Cloid, result.ClientOrderID)

	require.Equal(t, "555", result.OrderID)
	require.Equal(t, exchanges.OrderStatusPartial, result.Status)
	require.True(t, result.ExecutedQuantity.Equal(decimal.RequireFromString("0.005")), "executed %s", result.ExecutedQuantity)
	require.True(t, result.ExecutedPrice.Equal(decimal.RequireFromString("64050.5")), "avg price %s", result.ExecutedPrice)
}

func TestOpenLongPassesThroughClientOrderID(t *testing.T) {
	cloid := "0x00112233445566778899aabbccddeeff"
	trader, actions := signedTestTrader(t,
		map[string]string{
			"meta":    metaResponse,
			"allMids": `{"BTC": "64000"}`,
		},
		map[string]string{
			"updateLeverage": `{}`,
			"order":          `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":321}}]}}}`,
		},
	)

	result, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:        "BTC/USDT",
		Quantity:      decimal.RequireFromString("0.01"),
		ClientOrderID: cloid,
	})
	require.NoError(t, err)
	require.Equal(t, cloid, result.ClientOrderID)
	require.Equal(t, exchanges.OrderStatusNew, result.Status)

	order := (*actions)[len(*actions)-1]
	require.Len(t, order.Orders, 1)
	require.NotNil(t, order.Orders[0].Cloid)
	require.Equal(t, cloid, *order.Orders[0].Cloid)
}

func TestOpenLongRejectsMalformedClientOrderID(t *testing.T) {
	trader, calls := newTestTrader(t, infoHandler(t, map[string]string{
		"allMids": `{"BTC": "64000"}`,
	}))

	_, err := trader.OpenLong(context.Background(), exchanges.OrderIntent{
		Symbol:        "BTC/USDT",
		Quantity:      decimal.RequireFromString("0.01"),
		Type:          exchanges.OrderTypeLimit,
		Price:         decimal.NewFromInt(60000),
		ClientOrderID: "not-a-cloid",
	})
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)
	require.Zero(t, calls.Load(), "malformed client ids must fail before the network")
}

func TestClientOrderIDFormat(t *testing.T) {
	generated := newClientOrderID()
	require.Len(t, generated, 34)
	require.True(t, strings.HasPrefix(generated, "0x"))

	normalized, err := normalizeClientOrderID("00112233445566778899AABBCCDDEEFF")
	require.NoError(t, err)
	require.Equal(t, "0x00112233445566778899aabbccddeeff", normalized)

	_, err = normalizeClientOrderID("0x1234")
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)

	_, err = normalizeClientOrderID("zz112233445566778899aabbccddeeff")
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)
}

func TestCloseLongWithoutPositionFails(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{
		"clearinghouseState": `{"marginSummary": {"accountValue": "100", "totalMarginUsed": "0"}, "withdrawable": "100", "assetPositions": []}`,
	}))

	_, err := trader.CloseLong(context.Background(), "BTC/USDT", decimal.Zero)
	require.ErrorIs(t, err, exchanges.ErrInvalidOrderParams)
}

func TestAuthErrorMapping(t *testing.T) {
	trader, _ := newTestTrader(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "forbidden"}`))
	}))

	_, err := trader.GetBalance(context.Background())
	require.ErrorIs(t, err, exchanges.ErrAuthentication)

	var apiErr *exchanges.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusForbidden, apiErr.HTTPStatus)
	require.Equal(t, Name, apiErr.Exchange)
}

func TestHealthCheck(t *testing.T) {
	healthy, _ := newTestTrader(t, infoHandler(t, map[string]string{
		"allMids": `{"BTC": "64000"}`,
	}))
	status := healthy.HealthCheck(context.Background())
	require.Equal(t, exchanges.HealthHealthy, status.Status)
	require.Equal(t, Name, status.Exchange)

	broken, err := New(Config{
		Credentials: testBundle(),
		BaseURL:     "http://127.0.0.1:1",
		Table:       testTable(t),
	})
	require.NoError(t, err)

	status = broken.HealthCheck(context.Background())
	require.Equal(t, exchanges.HealthUnreachable, status.Status)
	require.NotEmpty(t, status.Error)
}

func TestValidateAndNormalizeSymbol(t *testing.T) {
	trader, calls := newTestTrader(t, infoHandler(t, map[string]string{}))

	require.True(t, trader.ValidateSymbol("BTC/USDT"))
	require.False(t, trader.ValidateSymbol("DOGE/TRY"))

	coin, err := trader.NormalizeSymbol("ETH/USDT")
	require.NoError(t, err)
	require.Equal(t, "ETH", coin)

	require.Zero(t, calls.Load())
}

func TestFormatHelpers(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{}))

	qty, err := trader.FormatQuantity("BTC/USDT", decimal.RequireFromString("0.123456789"))
	require.NoError(t, err)
	require.Equal(t, "0.12345", qty)

	price, err := trader.FormatPrice("BTC/USDT", decimal.RequireFromString("64123.7"))
	require.NoError(t, err)
	require.Equal(t, "64124", price)
}

func TestGetTradingFees(t *testing.T) {
	trader, _ := newTestTrader(t, infoHandler(t, map[string]string{}))

	fees, err := trader.GetTradingFees("BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, "USDC", fees.Currency)
	require.True(t, fees.TakerFee.Equal(decimal.RequireFromString("0.00035")))

	_, err = trader.GetTradingFees("DOGE/TRY")
	require.ErrorIs(t, err, exchanges.ErrUnsupportedSymbol)
}

func TestClassifyOrderError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"Insufficient margin to place order", exchanges.ErrOrderRejected},
		{"Order would exceed max leverage", exchanges.ErrRiskLimitExceeded},
		{"Unknown asset", exchanges.ErrUnsupportedSymbol},
		{"Order has invalid size", exchanges.ErrOrderRejected},
	}
	for _, tt := range tests {
		err := classifyOrderError(tt.msg)
		if !errors.Is(err, tt.want) {
			t.Errorf("classifyOrderError(%q) = %v, want %v", tt.msg, err, tt.want)
		}
	}
}
