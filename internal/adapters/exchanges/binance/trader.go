package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alphatrader/internal/adapters/credentials"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/internal/adapters/exchanges/ratelimit"
	"alphatrader/internal/adapters/exchanges/retry"
	"alphatrader/internal/adapters/exchanges/symbols"
	"alphatrader/internal/metrics"
	"alphatrader/pkg/errors"
	"alphatrader/pkg/logger"
)

const (
	Name = "binance_futures"

	futuresBaseURL    = "https://fapi.binance.com"
	futuresTestnetURL = "https://testnet.binancefuture.com"

	defaultRecvWindowMs = 5000
	defaultHTTPTimeout  = 10 * time.Second
	degradedLatency     = 2 * time.Second
)

// PriceSource serves cached prices for native symbols, typically backed
// by a mark price WebSocket stream. A miss falls through to REST.
type PriceSource interface {
	Price(nativeSymbol string) (decimal.Decimal, bool)
}

// Config configures the Binance futures trader.
type Config struct {
	Credentials *credentials.Bundle
	Testnet     bool

	BaseURL    string
	HTTPClient *http.Client
	RecvWindow time.Duration

	Table *symbols.Table
	Gate  *ratelimit.Gate

	DefaultLeverage int
	MaxLeverage     int
	MakerFee        decimal.Decimal
	TakerFee        decimal.Decimal

	PriceSource PriceSource
}

// New creates a Binance futures trader.
func New(cfg Config) (exchanges.Trader, error) {
	if cfg.Credentials == nil || cfg.Credentials.Auth != credentials.AuthAPIKeySecret {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "binance: api key credentials required")
	}
	if cfg.Table == nil {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "binance: symbol table required")
	}
	if cfg.Gate == nil {
		cfg.Gate = ratelimit.NewGate(Name, ratelimit.GateConfig{RequestsPerMinute: 1200, OrdersPerMinute: 600})
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindowMs * time.Millisecond
	}
	if cfg.DefaultLeverage < 1 {
		cfg.DefaultLeverage = 1
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 20
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = futuresBaseURL
		if cfg.Testnet {
			cfg.BaseURL = futuresTestnetURL
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &trader{
		cfg:        cfg,
		httpClient: httpClient,
		retrier:    retry.New(retry.DefaultConfig()),
		log:        logger.Get().With("exchange", Name),
	}, nil
}

type trader struct {
	cfg        Config
	httpClient *http.Client
	retrier    *retry.Middleware
	log        *logger.Logger
}

func (t *trader) Name() string {
	return Name
}

func (t *trader) GetBalance(ctx context.Context) (*exchanges.Balance, error) {
	var data []byte
	err := t.retrier.Do(ctx, func() error {
		var reqErr error
		data, reqErr = t.signed(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, ratelimit.ClassGeneral)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var res []struct {
		Asset       string `json:"asset"`
		Balance     string `json:"balance"`
		Available   string `json:"availableBalance"`
		CrossUnPnl  string `json:"crossUnPnl"`
		MarginAvail string `json:"maxWithdrawAmount"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "binance: decode balance")
	}

	balance := &exchanges.Balance{
		Currency:    "USDT",
		Exchange:    Name,
		CanTrade:    true,
		AccountType: "futures",
		Timestamp:   time.Now(),
	}

	for _, b := range res {
		if b.Asset != "USDT" {
			continue
		}
		balance.TotalBalance = parseDecimal(b.Balance)
		balance.AvailableBalance = parseDecimal(b.Available)
		balance.UnrealizedPnL = parseDecimal(b.CrossUnPnl)
		balance.MarginBalance = balance.TotalBalance.Add(balance.UnrealizedPnL)
		balance.MarginUsed = balance.TotalBalance.Sub(balance.AvailableBalance)
	}

	if err := balance.Validate(); err != nil {
		return nil, err
	}
	return balance, nil
}

func (t *trader) GetPositions(ctx context.Context) ([]exchanges.Position, error) {
	var data []byte
	err := t.retrier.Do(ctx, func() error {
		var reqErr error
		data, reqErr = t.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", url.Values{}, ratelimit.ClassGeneral)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var res []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		LiqPrice         string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
		IsolatedMargin   string `json:"isolatedMargin"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "binance: decode positions")
	}

	positions := make([]exchanges.Position, 0, len(res))
	for _, p := range res {
		size := parseDecimal(p.PositionAmt)
		if size.IsZero() {
			continue
		}

		// Symbols outside the configured table are skipped, not errors:
		// the account may hold positions opened elsewhere.
		canonical, err := t.cfg.Table.ToCanonical(p.Symbol)
		if err != nil {
			t.log.Debugf("Skipping position in unmapped symbol %s", p.Symbol)
			continue
		}

		side := exchanges.PositionSideLong
		if size.IsNegative() {
			side = exchanges.PositionSideShort
		}

		positions = append(positions, exchanges.Position{
			Symbol:           canonical,
			Side:             side,
			Size:             size.Abs(),
			EntryPrice:       parseDecimal(p.EntryPrice),
			MarkPrice:        parseDecimal(p.MarkPrice),
			UnrealizedPnL:    parseDecimal(p.UnRealizedProfit),
			Leverage:         parseDecimal(p.Leverage),
			MarginUsed:       parseDecimal(p.IsolatedMargin),
			MarginMode:       marginModeFromString(p.MarginType),
			Exchange:         Name,
			LiquidationPrice: parseDecimal(p.LiqPrice),
			Timestamp:        time.Now(),
		})
	}

	return positions, nil
}

func (t *trader) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	native, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	if t.cfg.PriceSource != nil {
		if price, ok := t.cfg.PriceSource.Price(native); ok {
			return price, nil
		}
	}

	params := url.Values{"symbol": []string{native}}
	var data []byte
	err = t.retrier.Do(ctx, func() error {
		var reqErr error
		data, reqErr = t.public(ctx, "/fapi/v1/ticker/price", params)
		return reqErr
	})
	if err != nil {
		return decimal.Zero, err
	}

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return decimal.Zero, errors.Wrap(err, "binance: decode ticker")
	}

	price := parseDecimal(res.Price)
	if price.IsZero() {
		return decimal.Zero, errors.Wrapf(exchanges.ErrConnection, "binance: empty price for %s", native)
	}
	return price, nil
}

func (t *trader) OpenLong(ctx context.Context, intent exchanges.OrderIntent) (*exchanges.OrderResult, error) {
	return t.openPosition(ctx, exchanges.OrderSideBuy, intent)
}

func (t *trader) OpenShort(ctx context.Context, intent exchanges.OrderIntent) (*exchanges.OrderResult, error) {
	return t.openPosition(ctx, exchanges.OrderSideSell, intent)
}

func (t *trader) openPosition(ctx context.Context, side exchanges.OrderSide, intent exchanges.OrderIntent) (*exchanges.OrderResult, error) {
	canonical := intent.Symbol
	native, err := t.cfg.Table.ToNative(canonical)
	if err != nil {
		return nil, err
	}

	orderType := intent.Type
	if orderType == "" {
		orderType = exchanges.OrderTypeMarket
	}
	if _, err := t.cfg.Table.MapOrderType(orderType); err != nil {
		return nil, err
	}

	quantity, err := t.cfg.Table.RoundQuantity(canonical, intent.Quantity)
	if err != nil {
		return nil, err
	}

	leverage := intent.Leverage
	if leverage == 0 {
		leverage = t.cfg.DefaultLeverage
	}
	if leverage < 1 {
		return nil, errors.Wrapf(exchanges.ErrInvalidOrderParams, "leverage %d below 1", leverage)
	}
	if max := t.maxLeverage(canonical); leverage > max {
		return nil, errors.Wrapf(exchanges.ErrRiskLimitExceeded, "leverage %d exceeds maximum %d for %s", leverage, max, canonical)
	}

	isStop := orderType == exchanges.OrderTypeStopMarket || orderType == exchanges.OrderTypeStopLimit
	var triggerPrice decimal.Decimal
	if isStop {
		if intent.TriggerPrice.IsZero() {
			return nil, errors.Wrap(exchanges.ErrInvalidOrderParams, "stop order requires a trigger price")
		}
		triggerPrice, err = t.cfg.Table.RoundPrice(canonical, intent.TriggerPrice)
		if err != nil {
			return nil, err
		}
	}

	// Reference price: explicit for limit orders, current market otherwise.
	var price decimal.Decimal
	if orderType == exchanges.OrderTypeLimit || orderType == exchanges.OrderTypeStopLimit {
		if intent.Price.IsZero() {
			return nil, errors.Wrap(exchanges.ErrInvalidOrderParams, "limit order requires a price")
		}
		price, err = t.cfg.Table.RoundPrice(canonical, intent.Price)
		if err != nil {
			return nil, err
		}
	} else {
		price, err = t.GetMarketPrice(ctx, canonical)
		if err != nil {
			return nil, err
		}
	}

	if err := t.cfg.Table.CheckNotional(canonical, quantity, price); err != nil {
		return nil, err
	}

	if err := t.SetLeverage(ctx, canonical, leverage); err != nil {
		return nil, err
	}

	clientOrderID := intent.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = newClientOrderID()
	}

	params := url.Values{
		"symbol":           []string{native},
		"side":             []string{string(side)},
		"newClientOrderId": []string{clientOrderID},
		"newOrderRespType": []string{"RESULT"},
	}
	mapped, _ := t.cfg.Table.MapOrderType(orderType)
	params.Set("type", mapped)

	qtyStr, err := t.cfg.Table.FormatQuantity(canonical, quantity)
	if err != nil {
		return nil, err
	}
	params.Set("quantity", qtyStr)

	if isStop {
		triggerStr, err := t.cfg.Table.FormatPrice(canonical, triggerPrice)
		if err != nil {
			return nil, err
		}
		params.Set("stopPrice", triggerStr)
	}

	if orderType == exchanges.OrderTypeLimit || orderType == exchanges.OrderTypeStopLimit {
		priceStr, err := t.cfg.Table.FormatPrice(canonical, price)
		if err != nil {
			return nil, err
		}
		params.Set("price", priceStr)

		tif := intent.TimeInForce
		if tif == "" {
			tif = exchanges.TimeInForceGTC
		}
		mappedTIF, err := t.cfg.Table.MapTimeInForce(tif)
		if err != nil {
			return nil, err
		}
		params.Set("timeInForce", mappedTIF)
	}

	data, err := t.signed(ctx, http.MethodPost, "/fapi/v1/order", params, ratelimit.ClassOrders)
	if err != nil {
		metrics.RecordOrderPlaced(Name, canonical, side, exchanges.OrderStatusFailed)
		return nil, err
	}

	result, err := t.parseOrderResponse(canonical, side, orderType, quantity, data)
	if err != nil {
		return nil, err
	}
	metrics.RecordOrderPlaced(Name, canonical, side, result.Status)

	// Protective legs are best effort: the entry already happened, so a
	// failed leg is reported in the result instead of unwinding it.
	t.placeProtectiveLegs(ctx, canonical, native, side, quantity, intent, result)

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *trader) placeProtectiveLegs(ctx context.Context, canonical, native string, side exchanges.OrderSide, quantity decimal.Decimal, intent exchanges.OrderIntent, result *exchanges.OrderResult) {
	closeSide := exchanges.OrderSideSell
	if side == exchanges.OrderSideSell {
		closeSide = exchanges.OrderSideBuy
	}

	if !intent.StopLossPrice.IsZero() {
		stopPrice, err := t.cfg.Table.RoundPrice(canonical, intent.StopLossPrice)
		if err == nil {
			params := url.Values{
				"symbol":        []string{native},
				"side":          []string{string(closeSide)},
				"type":          []string{"STOP_MARKET"},
				"closePosition": []string{"true"},
			}
			priceStr, _ := t.cfg.Table.FormatPrice(canonical, stopPrice)
			params.Set("stopPrice", priceStr)
			_, err = t.signed(ctx, http.MethodPost, "/fapi/v1/order", params, ratelimit.ClassOrders)
		}
		if err != nil {
			t.log.Errorf("Stop loss leg failed for %s: %v", canonical, err)
			result.RawData["stop_loss_error"] = err.Error()
		}
	}

	if !intent.TakeProfitPrice.IsZero() {
		tpPrice, err := t.cfg.Table.RoundPrice(canonical, intent.TakeProfitPrice)
		if err == nil {
			params := url.Values{
				"symbol":     []string{native},
				"side":       []string{string(closeSide)},
				"type":       []string{"LIMIT"},
				"reduceOnly": []string{"true"},
			}
			priceStr, _ := t.cfg.Table.FormatPrice(canonical, tpPrice)
			qtyStr, _ := t.cfg.Table.FormatQuantity(canonical, quantity)
			params.Set("price", priceStr)
			params.Set("quantity", qtyStr)
			params.Set("timeInForce", "GTC")
			_, err = t.signed(ctx, http.MethodPost, "/fapi/v1/order", params, ratelimit.ClassOrders)
		}
		if err != nil {
			t.log.Errorf("Take profit leg failed for %s: %v", canonical, err)
			result.RawData["take_profit_error"] = err.Error()
		}
	}
}

func (t *trader) CloseLong(ctx context.Context, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	return t.closePosition(ctx, exchanges.PositionSideLong, symbol, quantity)
}

func (t *trader) CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	return t.closePosition(ctx, exchanges.PositionSideShort, symbol, quantity)
}

func (t *trader) closePosition(ctx context.Context, side exchanges.PositionSide, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	native, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return nil, err
	}

	// Zero quantity closes the whole position.
	if quantity.IsZero() {
		positions, err := t.GetPositions(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range positions {
			if p.Symbol == symbol && p.Side == side {
				quantity = p.Size
				break
			}
		}
		if quantity.IsZero() {
			return nil, errors.Wrapf(exchanges.ErrInvalidOrderParams, "no open %s position for %s", strings.ToLower(string(side)), symbol)
		}
	}

	quantity, err = t.cfg.Table.RoundQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}

	orderSide := exchanges.OrderSideSell
	if side == exchanges.PositionSideShort {
		orderSide = exchanges.OrderSideBuy
	}

	qtyStr, err := t.cfg.Table.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"symbol":           []string{native},
		"side":             []string{string(orderSide)},
		"type":             []string{"MARKET"},
		"quantity":         []string{qtyStr},
		"reduceOnly":       []string{"true"},
		"newClientOrderId": []string{newClientOrderID()},
		"newOrderRespType": []string{"RESULT"},
	}

	data, err := t.signed(ctx, http.MethodPost, "/fapi/v1/order", params, ratelimit.ClassOrders)
	if err != nil {
		metrics.RecordOrderPlaced(Name, symbol, orderSide, exchanges.OrderStatusFailed)
		return nil, err
	}

	result, err := t.parseOrderResponse(symbol, orderSide, exchanges.OrderTypeMarket, quantity, data)
	if err != nil {
		return nil, err
	}
	metrics.RecordOrderPlaced(Name, symbol, orderSide, result.Status)

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *trader) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	native, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}
	if leverage < 1 {
		return errors.Wrapf(exchanges.ErrInvalidOrderParams, "leverage %d below 1", leverage)
	}
	if max := t.maxLeverage(symbol); leverage > max {
		return errors.Wrapf(exchanges.ErrRiskLimitExceeded, "leverage %d exceeds maximum %d for %s", leverage, max, symbol)
	}

	params := url.Values{
		"symbol":   []string{native},
		"leverage": []string{strconv.Itoa(leverage)},
	}
	_, err = t.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, ratelimit.ClassGeneral)
	return err
}

func (t *trader) SetMarginMode(ctx context.Context, symbol string, mode exchanges.MarginMode) error {
	native, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}

	marginType := "CROSSED"
	if mode == exchanges.MarginIsolated {
		marginType = "ISOLATED"
	}

	params := url.Values{
		"symbol":     []string{native},
		"marginType": []string{marginType},
	}
	_, err = t.signed(ctx, http.MethodPost, "/fapi/v1/marginType", params, ratelimit.ClassGeneral)

	// -4046: margin type already matches, which is the desired state.
	var apiErr *exchanges.APIError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return nil
	}
	return err
}

func (t *trader) CancelAllOrders(ctx context.Context, symbol string) error {
	native, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}

	params := url.Values{"symbol": []string{native}}
	_, err = t.signed(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, ratelimit.ClassOrders)
	return err
}

func (t *trader) ValidateSymbol(symbol string) bool {
	return t.cfg.Table.Has(symbol)
}

func (t *trader) NormalizeSymbol(symbol string) (string, error) {
	return t.cfg.Table.ToNative(symbol)
}

func (t *trader) FormatQuantity(symbol string, quantity decimal.Decimal) (string, error) {
	rounded, err := t.cfg.Table.RoundQuantity(symbol, quantity)
	if err != nil {
		return "", err
	}
	return t.cfg.Table.FormatQuantity(symbol, rounded)
}

func (t *trader) FormatPrice(symbol string, price decimal.Decimal) (string, error) {
	rounded, err := t.cfg.Table.RoundPrice(symbol, price)
	if err != nil {
		return "", err
	}
	return t.cfg.Table.FormatPrice(symbol, rounded)
}

func (t *trader) GetTradingFees(symbol string) (*exchanges.TradingFees, error) {
	if !t.cfg.Table.Has(symbol) {
		return nil, errors.Wrapf(exchanges.ErrUnsupportedSymbol, "%s: %s", Name, symbol)
	}
	return &exchanges.TradingFees{
		MakerFee: t.cfg.MakerFee,
		TakerFee: t.cfg.TakerFee,
		Currency: "USDT",
	}, nil
}

func (t *trader) HealthCheck(ctx context.Context) *exchanges.HealthStatus {
	status := &exchanges.HealthStatus{
		Exchange:  Name,
		Timestamp: time.Now(),
	}

	start := time.Now()
	_, err := t.public(ctx, "/fapi/v1/ping", url.Values{})
	status.ResponseTime = time.Since(start)

	switch {
	case err != nil:
		status.Status = exchanges.HealthUnreachable
		status.Error = err.Error()
	case status.ResponseTime > degradedLatency:
		status.Status = exchanges.HealthDegraded
	default:
		status.Status = exchanges.HealthHealthy
	}
	return status
}

func (t *trader) maxLeverage(canonical string) int {
	max := t.cfg.MaxLeverage
	if symbolMax := t.cfg.Table.MaxLeverage(canonical); symbolMax > 0 && symbolMax < max {
		max = symbolMax
	}
	return max
}

func (t *trader) parseOrderResponse(canonical string, side exchanges.OrderSide, orderType exchanges.OrderType, requested decimal.Decimal, data []byte) (*exchanges.OrderResult, error) {
	var res struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
		Price         string `json:"price"`
		AvgPrice      string `json:"avgPrice"`
		OrigQty       string `json:"origQty"`
		ExecutedQty   string `json:"executedQty"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrap(err, "binance: decode order response")
	}

	timestamp := time.Now()
	if res.UpdateTime > 0 {
		timestamp = time.UnixMilli(res.UpdateTime)
	}

	return &exchanges.OrderResult{
		Symbol:           canonical,
		OrderID:          strconv.FormatInt(res.OrderID, 10),
		ClientOrderID:    res.ClientOrderID,
		Side:             side,
		Type:             orderType,
		Quantity:         requested,
		Price:            parseDecimal(res.Price),
		ExecutedQuantity: parseDecimal(res.ExecutedQty),
		ExecutedPrice:    parseDecimal(res.AvgPrice),
		Status:           orderStatusFromString(res.Status),
		Exchange:         Name,
		Timestamp:        timestamp,
		RawData:          map[string]interface{}{},
	}, nil
}

func (t *trader) public(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return t.doRequest(ctx, http.MethodGet, path, params, false, ratelimit.ClassGeneral)
}

func (t *trader) signed(ctx context.Context, method, path string, params url.Values, class ratelimit.Class) ([]byte, error) {
	return t.doRequest(ctx, method, path, params, true, class)
}

func (t *trader) doRequest(ctx context.Context, method, path string, params url.Values, signed bool, class ratelimit.Class) ([]byte, error) {
	if err := t.cfg.Gate.Acquire(ctx, class); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(class)).Inc()
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}

	var body io.Reader
	query := params.Encode()

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(t.cfg.RecvWindow.Milliseconds(), 10))
		signature := t.sign(params.Encode())
		params.Set("signature", signature)
		query = params.Encode()
	}

	reqURL := t.cfg.BaseURL + path

	switch method {
	case http.MethodGet, http.MethodDelete:
		if query != "" {
			reqURL = reqURL + "?" + query
		}
	default:
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "binance: build request")
	}

	if signed {
		req.Header.Set("X-MBX-APIKEY", t.cfg.Credentials.APIKey.Value())
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordExchangeAPICall(Name, path, latency, err)
		return nil, errors.Wrapf(exchanges.ErrConnection, "binance: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordExchangeAPICall(Name, path, latency, err)
		return nil, errors.Wrapf(exchanges.ErrConnection, "binance: read response: %v", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := parseAPIError(resp.StatusCode, payload)
		metrics.RecordExchangeAPICall(Name, path, latency, apiErr)
		return nil, apiErr
	}

	metrics.RecordExchangeAPICall(Name, path, latency, nil)
	return payload, nil
}

func (t *trader) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(t.cfg.Credentials.SecretKey.Value()))
	_, _ = mac.Write([]byte(payload))
	return fmt.Sprintf("%x", mac.Sum(nil))
}

func parseAPIError(status int, payload []byte) error {
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	code := 0
	message := strings.TrimSpace(string(payload))
	if err := json.Unmarshal(payload, &body); err == nil && body.Code != 0 {
		code = body.Code
		message = body.Msg
	}

	return exchanges.NewAPIError(Name, classifyError(status, code), status, code, message, payload)
}

// classifyError maps Binance error codes and HTTP statuses onto the
// shared error taxonomy.
func classifyError(status, code int) error {
	switch code {
	case -2014, -2015, -1022:
		return exchanges.ErrAuthentication
	case -1003, -1015:
		return exchanges.ErrRateLimited
	case -2010, -2018, -2019, -4164:
		return exchanges.ErrOrderRejected
	case -1121:
		return exchanges.ErrUnsupportedSymbol
	case -1111, -1013, -4003:
		return exchanges.ErrInvalidOrderParams
	case -4028:
		return exchanges.ErrRiskLimitExceeded
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exchanges.ErrAuthentication
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return exchanges.ErrRateLimited
	case status >= 500:
		return exchanges.ErrConnection
	default:
		return exchanges.ErrOrderRejected
	}
}

func newClientOrderID() string {
	return "at-" + uuid.NewString()[:18]
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func orderStatusFromString(s string) exchanges.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return exchanges.OrderStatusNew
	case "PARTIALLY_FILLED":
		return exchanges.OrderStatusPartial
	case "FILLED":
		return exchanges.OrderStatusFilled
	case "CANCELED":
		return exchanges.OrderStatusCancelled
	case "REJECTED":
		return exchanges.OrderStatusRejected
	default:
		return exchanges.OrderStatusFailed
	}
}

func marginModeFromString(v string) exchanges.MarginMode {
	if strings.ToLower(v) == "isolated" {
		return exchanges.MarginIsolated
	}
	return exchanges.MarginCross
}
