package hyperliquid

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"

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
	Name = "hyperliquid"

	mainnetBaseURL = "https://api.hyperliquid.xyz"
	testnetBaseURL = "https://api.hyperliquid-testnet.xyz"

	defaultHTTPTimeout = 10 * time.Second
	degradedLatency    = 2 * time.Second
)

// Config configures the Hyperliquid perpetuals trader.
type Config struct {
	Credentials *credentials.Bundle
	Testnet     bool

	BaseURL    string
	HTTPClient *http.Client

	Table *symbols.Table
	Gate  *ratelimit.Gate

	DefaultLeverage int
	MaxLeverage     int
	MakerFee        decimal.Decimal
	TakerFee        decimal.Decimal

	// SlippagePercent bounds the limit price used to emulate market
	// orders, e.g. 0.5 allows 0.5% through the mid price.
	SlippagePercent decimal.Decimal
}

// New creates a Hyperliquid trader. The signing client is initialized
// lazily on the first order so read-only usage works without touching
// the exchange endpoint.
func New(cfg Config) (exchanges.Trader, error) {
	if cfg.Credentials == nil || cfg.Credentials.Auth != credentials.AuthWalletPrivateKey {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "hyperliquid: wallet credentials required")
	}
	if cfg.Table == nil {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "hyperliquid: symbol table required")
	}
	if cfg.Gate == nil {
		cfg.Gate = ratelimit.NewGate(Name, ratelimit.GateConfig{RequestsPerMinute: 600, OrdersPerMinute: 300})
	}
	if cfg.DefaultLeverage < 1 {
		cfg.DefaultLeverage = 1
	}
	if cfg.MaxLeverage < 1 {
		cfg.MaxLeverage = 10
	}
	if cfg.SlippagePercent.IsZero() {
		cfg.SlippagePercent = decimal.NewFromFloat(0.5)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = mainnetBaseURL
		if cfg.Testnet {
			cfg.BaseURL = testnetBaseURL
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &trader{
		cfg:         cfg,
		httpClient:  httpClient,
		retrier:     retry.New(retry.DefaultConfig()),
		log:         logger.Get().With("exchange", Name),
		marginModes: map[string]exchanges.MarginMode{},
		leverages:   map[string]int{},
	}, nil
}

type trader struct {
	cfg        Config
	httpClient *http.Client
	retrier    *retry.Middleware
	log        *logger.Logger

	sdkOnce sync.Once
	sdkErr  error
	sdk     *hyperliquid.Exchange
	info    *hyperliquid.Info

	// The exchange has no standalone margin mode endpoint: the mode
	// rides along with every leverage update. Track the last applied
	// values per symbol so either call can replay the other's side.
	mu          sync.Mutex
	marginModes map[string]exchanges.MarginMode
	leverages   map[string]int
}

func (t *trader) Name() string {
	return Name
}

// accountAddress is the address whose state is queried. With an API
// wallet that is the master account, not the signing wallet.
func (t *trader) accountAddress() string {
	if t.cfg.Credentials.MainWallet != "" {
		return t.cfg.Credentials.MainWallet
	}
	return t.cfg.Credentials.WalletAddress
}

func (t *trader) initSDK(ctx context.Context) error {
	t.sdkOnce.Do(func() {
		// Fetch meta through our own client first so rate limiting and
		// error mapping apply, then hand it to the SDK pre-resolved.
		data, err := t.infoRequest(ctx, map[string]interface{}{"type": "meta"})
		if err != nil {
			t.sdkErr = err
			return
		}

		var meta hyperliquid.Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			t.sdkErr = errors.Wrap(err, "hyperliquid: decode meta")
			return
		}

		pk, err := crypto.HexToECDSA(t.cfg.Credentials.PrivateKey.Value())
		if err != nil {
			t.sdkErr = errors.Wrapf(exchanges.ErrConfiguration, "hyperliquid: parse private key: %v", err)
			return
		}

		// Perpetuals only. An empty spot meta keeps the SDK from
		// fetching one on its own.
		spotMeta := &hyperliquid.SpotMeta{}
		t.info = hyperliquid.NewInfo(ctx, t.cfg.BaseURL, true, &meta, spotMeta)
		t.sdk = hyperliquid.NewExchange(ctx, pk, t.cfg.BaseURL, &meta, "", t.accountAddress(), spotMeta)
	})
	return t.sdkErr
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue    string `json:"accountValue"`
		TotalMarginUsed string `json:"totalMarginUsed"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			PositionValue string `json:"positionValue"`
			UnrealizedPnl string `json:"unrealizedPnl"`
			LiquidationPx string `json:"liquidationPx"`
			MarginUsed    string `json:"marginUsed"`
			Leverage      struct {
				Type  string          `json:"type"`
				Value json.RawMessage `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (t *trader) GetBalance(ctx context.Context) (*exchanges.Balance, error) {
	state, err := t.fetchClearinghouseState(ctx)
	if err != nil {
		return nil, err
	}

	balance := &exchanges.Balance{
		TotalBalance:     parseDecimal(state.MarginSummary.AccountValue),
		AvailableBalance: parseDecimal(state.Withdrawable),
		MarginUsed:       parseDecimal(state.MarginSummary.TotalMarginUsed),
		Currency:         "USDC",
		Exchange:         Name,
		CanTrade:         true,
		AccountType:      "perpetual",
		Timestamp:        time.Now(),
	}

	for _, p := range state.AssetPositions {
		balance.UnrealizedPnL = balance.UnrealizedPnL.Add(parseDecimal(p.Position.UnrealizedPnl))
	}
	balance.MarginBalance = balance.TotalBalance

	if err := balance.Validate(); err != nil {
		return nil, err
	}
	return balance, nil
}

func (t *trader) GetPositions(ctx context.Context) ([]exchanges.Position, error) {
	state, err := t.fetchClearinghouseState(ctx)
	if err != nil {
		return nil, err
	}

	positions := make([]exchanges.Position, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		size := parseDecimal(p.Szi)
		if size.IsZero() {
			continue
		}

		canonical, err := t.cfg.Table.ToCanonical(p.Coin)
		if err != nil {
			t.log.Debugf("Skipping position in unmapped coin %s", p.Coin)
			continue
		}

		side := exchanges.PositionSideLong
		if size.IsNegative() {
			side = exchanges.PositionSideShort
		}

		mode := exchanges.MarginCross
		if p.Leverage.Type == "isolated" {
			mode = exchanges.MarginIsolated
		}

		leverage := decimal.Zero
		if len(p.Leverage.Value) > 0 {
			leverage = parseDecimal(strings.Trim(string(p.Leverage.Value), `"`))
		}

		positions = append(positions, exchanges.Position{
			Symbol:           canonical,
			Side:             side,
			Size:             size.Abs(),
			EntryPrice:       parseDecimal(p.EntryPx),
			UnrealizedPnL:    parseDecimal(p.UnrealizedPnl),
			Leverage:         leverage,
			MarginUsed:       parseDecimal(p.MarginUsed),
			MarginMode:       mode,
			Exchange:         Name,
			LiquidationPrice: parseDecimal(p.LiquidationPx),
			Timestamp:        time.Now(),
		})
	}

	return positions, nil
}

func (t *trader) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	coin, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	var data []byte
	err = t.retrier.Do(ctx, func() error {
		var reqErr error
		data, reqErr = t.infoRequest(ctx, map[string]interface{}{"type": "allMids"})
		return reqErr
	})
	if err != nil {
		return decimal.Zero, err
	}

	var mids map[string]string
	if err := json.Unmarshal(data, &mids); err != nil {
		return decimal.Zero, errors.Wrap(err, "hyperliquid: decode mids")
	}

	mid, ok := mids[coin]
	if !ok {
		return decimal.Zero, errors.Wrapf(exchanges.ErrUnsupportedSymbol, "hyperliquid: no mid price for %s", coin)
	}

	price := parseDecimal(mid)
	if price.IsZero() {
		return decimal.Zero, errors.Wrapf(exchanges.ErrConnection, "hyperliquid: empty mid price for %s", coin)
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
	coin, err := t.cfg.Table.ToNative(canonical)
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

	// Market orders are emulated with an aggressive limit bounded by the
	// configured slippage through the mid price.
	var price decimal.Decimal
	if orderType == exchanges.OrderTypeLimit {
		if intent.Price.IsZero() {
			return nil, errors.Wrap(exchanges.ErrInvalidOrderParams, "limit order requires a price")
		}
		price, err = t.cfg.Table.RoundPrice(canonical, intent.Price)
	} else {
		price, err = t.referencePrice(ctx, canonical, side)
	}
	if err != nil {
		return nil, err
	}

	if err := t.cfg.Table.CheckNotional(canonical, quantity, price); err != nil {
		return nil, err
	}

	clientOrderID := intent.ClientOrderID
	if clientOrderID != "" {
		clientOrderID, err = normalizeClientOrderID(clientOrderID)
		if err != nil {
			return nil, err
		}
	}

	if err := t.SetLeverage(ctx, canonical, leverage); err != nil {
		return nil, err
	}

	result, err := t.placeOrder(ctx, coin, canonical, side, orderType, quantity, price, clientOrderID, false)
	if err != nil {
		metrics.RecordOrderPlaced(Name, canonical, side, exchanges.OrderStatusFailed)
		return nil, err
	}
	metrics.RecordOrderPlaced(Name, canonical, side, result.Status)

	if !intent.StopLossPrice.IsZero() || !intent.TakeProfitPrice.IsZero() {
		t.log.Warnf("Protective legs not supported, skipping for %s", canonical)
		result.RawData["protective_legs"] = "unsupported"
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *trader) CloseLong(ctx context.Context, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	return t.closePosition(ctx, exchanges.PositionSideLong, symbol, quantity)
}

func (t *trader) CloseShort(ctx context.Context, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	return t.closePosition(ctx, exchanges.PositionSideShort, symbol, quantity)
}

func (t *trader) closePosition(ctx context.Context, side exchanges.PositionSide, symbol string, quantity decimal.Decimal) (*exchanges.OrderResult, error) {
	coin, err := t.cfg.Table.ToNative(symbol)
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

	price, err := t.referencePrice(ctx, symbol, orderSide)
	if err != nil {
		return nil, err
	}

	result, err := t.placeOrder(ctx, coin, symbol, orderSide, exchanges.OrderTypeMarket, quantity, price, "", true)
	if err != nil {
		metrics.RecordOrderPlaced(Name, symbol, orderSide, exchanges.OrderStatusFailed)
		return nil, err
	}
	metrics.RecordOrderPlaced(Name, symbol, orderSide, result.Status)

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *trader) placeOrder(ctx context.Context, coin, canonical string, side exchanges.OrderSide, orderType exchanges.OrderType, quantity, price decimal.Decimal, clientOrderID string, reduceOnly bool) (*exchanges.OrderResult, error) {
	if err := t.initSDK(ctx); err != nil {
		return nil, err
	}

	if err := t.cfg.Gate.Acquire(ctx, ratelimit.ClassOrders); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(ratelimit.ClassOrders)).Inc()
		return nil, err
	}

	if clientOrderID == "" {
		clientOrderID = newClientOrderID()
	}

	req := hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: side == exchanges.OrderSideBuy,
		Size:  quantity.InexactFloat64(),
		Price: price.InexactFloat64(),
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{
				Tif: hyperliquid.TifGtc,
			},
		},
		ReduceOnly:    reduceOnly,
		ClientOrderID: &clientOrderID,
	}

	start := time.Now()
	res, err := t.sdk.Order(ctx, req, nil)
	metrics.RecordExchangeAPICall(Name, "/exchange", time.Since(start), err)
	if err != nil {
		return nil, classifyExchangeError("place order", err)
	}
	if res.Error != nil {
		return nil, classifyOrderError(*res.Error)
	}

	result := &exchanges.OrderResult{
		Symbol:        canonical,
		ClientOrderID: clientOrderID,
		Side:          side,
		Type:          orderType,
		Quantity:      quantity,
		Price:         price,
		Exchange:      Name,
		Timestamp:     time.Now(),
		RawData:       map[string]interface{}{},
	}

	switch {
	case res.Filled != nil:
		result.OrderID = strconv.Itoa(res.Filled.Oid)
		result.ExecutedQuantity = parseDecimal(res.Filled.TotalSz)
		result.ExecutedPrice = parseDecimal(res.Filled.AvgPx)
		if result.ExecutedQuantity.IsZero() {
			result.ExecutedQuantity = quantity
		}
		if result.ExecutedPrice.IsZero() {
			result.ExecutedPrice = price
		}
		result.Status = exchanges.OrderStatusFilled
		if result.ExecutedQuantity.LessThan(quantity) {
			result.Status = exchanges.OrderStatusPartial
		}
	case res.Resting != nil:
		result.OrderID = strconv.FormatInt(res.Resting.Oid, 10)
		result.Status = exchanges.OrderStatusNew
	default:
		result.Status = exchanges.OrderStatusNew
	}

	return result, nil
}

// newClientOrderID builds a cloid the exchange accepts: 16 random bytes
// hex encoded with a 0x prefix.
func newClientOrderID() string {
	u := uuid.New()
	return "0x" + hex.EncodeToString(u[:])
}

// normalizeClientOrderID validates a caller-supplied cloid against the
// exchange format before anything goes on the wire.
func normalizeClientOrderID(id string) (string, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(id), "0x")
	if len(trimmed) != 32 {
		return "", errors.Wrapf(exchanges.ErrInvalidOrderParams, "hyperliquid: client order id must be 16 hex bytes, got %q", id)
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", errors.Wrapf(exchanges.ErrInvalidOrderParams, "hyperliquid: client order id must be hex, got %q", id)
	}
	return "0x" + trimmed, nil
}

// referencePrice computes the bounded limit price used for market-style
// orders: mid price pushed through by the slippage allowance.
func (t *trader) referencePrice(ctx context.Context, canonical string, side exchanges.OrderSide) (decimal.Decimal, error) {
	mid, err := t.GetMarketPrice(ctx, canonical)
	if err != nil {
		return decimal.Zero, err
	}

	factor := t.cfg.SlippagePercent.Div(decimal.NewFromInt(100))
	if side == exchanges.OrderSideBuy {
		mid = mid.Mul(decimal.NewFromInt(1).Add(factor))
	} else {
		mid = mid.Mul(decimal.NewFromInt(1).Sub(factor))
	}

	return t.cfg.Table.RoundPrice(canonical, mid)
}

func (t *trader) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	coin, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}
	if leverage < 1 {
		return errors.Wrapf(exchanges.ErrInvalidOrderParams, "leverage %d below 1", leverage)
	}
	if max := t.maxLeverage(symbol); leverage > max {
		return errors.Wrapf(exchanges.ErrRiskLimitExceeded, "leverage %d exceeds maximum %d for %s", leverage, max, symbol)
	}

	if err := t.applyLeverage(ctx, symbol, coin, leverage, t.recordedMarginMode(symbol)); err != nil {
		return err
	}

	t.mu.Lock()
	t.leverages[symbol] = leverage
	t.mu.Unlock()
	return nil
}

func (t *trader) SetMarginMode(ctx context.Context, symbol string, mode exchanges.MarginMode) error {
	coin, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}
	if mode != exchanges.MarginCross && mode != exchanges.MarginIsolated {
		return errors.Wrapf(exchanges.ErrInvalidOrderParams, "hyperliquid: unknown margin mode %q", mode)
	}

	if err := t.applyLeverage(ctx, symbol, coin, t.recordedLeverage(symbol), mode); err != nil {
		return err
	}

	t.mu.Lock()
	t.marginModes[symbol] = mode
	t.mu.Unlock()
	return nil
}

// applyLeverage pushes leverage and margin mode in one call, which is
// how the exchange models both settings.
func (t *trader) applyLeverage(ctx context.Context, symbol, coin string, leverage int, mode exchanges.MarginMode) error {
	if err := t.initSDK(ctx); err != nil {
		return err
	}
	if err := t.cfg.Gate.Acquire(ctx, ratelimit.ClassGeneral); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(ratelimit.ClassGeneral)).Inc()
		return err
	}

	start := time.Now()
	_, err := t.sdk.UpdateLeverage(ctx, leverage, coin, mode == exchanges.MarginCross)
	metrics.RecordExchangeAPICall(Name, "/exchange", time.Since(start), err)
	if err != nil {
		return classifyExchangeError("update leverage", err)
	}

	t.log.Infow("Applied leverage", "symbol", symbol, "leverage", leverage, "margin_mode", mode)
	return nil
}

func (t *trader) recordedMarginMode(symbol string) exchanges.MarginMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode, ok := t.marginModes[symbol]; ok {
		return mode
	}
	return exchanges.MarginCross
}

func (t *trader) recordedLeverage(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if leverage, ok := t.leverages[symbol]; ok {
		return leverage
	}
	return t.cfg.DefaultLeverage
}

func (t *trader) CancelAllOrders(ctx context.Context, symbol string) error {
	coin, err := t.cfg.Table.ToNative(symbol)
	if err != nil {
		return err
	}
	if err := t.initSDK(ctx); err != nil {
		return err
	}

	if err := t.cfg.Gate.Acquire(ctx, ratelimit.ClassGeneral); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(ratelimit.ClassGeneral)).Inc()
		return err
	}
	open, err := t.info.OpenOrders(ctx, t.accountAddress())
	if err != nil {
		return errors.Wrapf(exchanges.ErrConnection, "hyperliquid: list open orders: %v", err)
	}

	cancels := make([]hyperliquid.CancelOrderRequest, 0, len(open))
	for _, o := range open {
		if o.Coin != coin {
			continue
		}
		cancels = append(cancels, hyperliquid.CancelOrderRequest{Coin: o.Coin, OrderID: o.Oid})
	}
	if len(cancels) == 0 {
		return nil
	}

	if err := t.cfg.Gate.Acquire(ctx, ratelimit.ClassOrders); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(ratelimit.ClassOrders)).Inc()
		return err
	}

	start := time.Now()
	_, err = t.sdk.BulkCancel(ctx, cancels)
	metrics.RecordExchangeAPICall(Name, "/exchange", time.Since(start), err)
	if err != nil {
		return classifyExchangeError("cancel orders", err)
	}

	t.log.Infow("Cancelled open orders", "symbol", symbol, "count", len(cancels))
	return nil
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
		Currency: "USDC",
	}, nil
}

func (t *trader) HealthCheck(ctx context.Context) *exchanges.HealthStatus {
	status := &exchanges.HealthStatus{
		Exchange:  Name,
		Timestamp: time.Now(),
	}

	start := time.Now()
	_, err := t.infoRequest(ctx, map[string]interface{}{"type": "allMids"})
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

func (t *trader) fetchClearinghouseState(ctx context.Context) (*clearinghouseState, error) {
	payload := map[string]interface{}{
		"type": "clearinghouseState",
		"user": t.accountAddress(),
	}

	var data []byte
	err := t.retrier.Do(ctx, func() error {
		var reqErr error
		data, reqErr = t.infoRequest(ctx, payload)
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var state clearinghouseState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "hyperliquid: decode clearinghouse state")
	}
	return &state, nil
}

// infoRequest posts to the public /info endpoint.
func (t *trader) infoRequest(ctx context.Context, payload map[string]interface{}) ([]byte, error) {
	if err := t.cfg.Gate.Acquire(ctx, ratelimit.ClassGeneral); err != nil {
		metrics.RateLimiterRejections.WithLabelValues(Name, string(ratelimit.ClassGeneral)).Inc()
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "hyperliquid: encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "hyperliquid: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordExchangeAPICall(Name, "/info", latency, err)
		return nil, errors.Wrapf(exchanges.ErrConnection, "hyperliquid: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordExchangeAPICall(Name, "/info", latency, err)
		return nil, errors.Wrapf(exchanges.ErrConnection, "hyperliquid: read response: %v", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := exchanges.NewAPIError(Name, classifyHTTPError(resp.StatusCode), resp.StatusCode, 0, strings.TrimSpace(string(data)), data)
		metrics.RecordExchangeAPICall(Name, "/info", latency, apiErr)
		return nil, apiErr
	}

	metrics.RecordExchangeAPICall(Name, "/info", latency, nil)
	return data, nil
}

func classifyHTTPError(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return exchanges.ErrAuthentication
	case status == http.StatusTooManyRequests:
		return exchanges.ErrRateLimited
	case status >= 500:
		return exchanges.ErrConnection
	default:
		return exchanges.ErrOrderRejected
	}
}

// classifyExchangeError maps SDK errors from signed /exchange actions.
// Rejections come back as error strings, so transport failure is the
// fallback only when the message carries no rejection hint.
func classifyExchangeError(op string, err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "leverage"):
		return errors.Wrapf(exchanges.ErrRiskLimitExceeded, "hyperliquid: %s: %v", op, err)
	case strings.Contains(lower, "margin"), strings.Contains(lower, "insufficient"):
		return errors.Wrapf(exchanges.ErrOrderRejected, "hyperliquid: %s: %v", op, err)
	default:
		return errors.Wrapf(exchanges.ErrConnection, "hyperliquid: %s: %v", op, err)
	}
}

// classifyOrderError maps the error strings the exchange returns inside
// an otherwise successful order response.
func classifyOrderError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "margin"), strings.Contains(lower, "insufficient"):
		return errors.Wrapf(exchanges.ErrOrderRejected, "hyperliquid: %s", msg)
	case strings.Contains(lower, "leverage"):
		return errors.Wrapf(exchanges.ErrRiskLimitExceeded, "hyperliquid: %s", msg)
	case strings.Contains(lower, "asset"), strings.Contains(lower, "coin"):
		return errors.Wrapf(exchanges.ErrUnsupportedSymbol, "hyperliquid: %s", msg)
	default:
		return errors.Wrapf(exchanges.ErrOrderRejected, "hyperliquid: %s", msg)
	}
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
}
