package exchangefactory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"alphatrader/internal/adapters/config"
	"alphatrader/internal/adapters/credentials"
	"alphatrader/internal/adapters/exchanges"
	"alphatrader/internal/adapters/exchanges/binance"
	"alphatrader/internal/adapters/exchanges/hyperliquid"
	"alphatrader/internal/adapters/exchanges/ratelimit"
	"alphatrader/internal/adapters/exchanges/symbols"
	"alphatrader/internal/adapters/exchanges/websocket"
	"alphatrader/pkg/errors"
	"alphatrader/pkg/logger"
)

// Resolver loads credentials for a descriptor. Injectable so tests can
// supply inline material.
type Resolver func(credentials.Descriptor) (*credentials.Bundle, error)

// Option customizes factory behavior.
type Option func(*factory)

// WithResolver replaces the credential resolver.
func WithResolver(r Resolver) Option {
	return func(f *factory) {
		f.resolver = r
	}
}

// New creates a pooled trader factory. Traders are built on first use
// and cached; concurrent first access builds exactly one instance.
func New(cfg *config.Config, opts ...Option) exchanges.Factory {
	f := &factory{
		cfg:      cfg,
		resolver: credentials.Resolve,
		traders:  make(map[string]exchanges.Trader),
		building: make(map[string]*sync.Mutex),
		log:      logger.Get().With("component", "exchange_factory"),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

type factory struct {
	cfg      *config.Config
	resolver Resolver
	log      *logger.Logger

	mu      sync.RWMutex
	traders map[string]exchanges.Trader
	// building serializes first-time construction per exchange so two
	// goroutines never race to build the same trader.
	building map[string]*sync.Mutex

	streams []*websocket.MarkPriceStream
}

// NormalizeName folds the accepted aliases onto canonical exchange names.
func NormalizeName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binance", "binance_futures", "binance-futures":
		return binance.Name, nil
	case "hyperliquid", "hl":
		return hyperliquid.Name, nil
	default:
		return "", errors.Wrapf(exchanges.ErrConfiguration, "unknown exchange %q", name)
	}
}

func (f *factory) Get(name string) (exchanges.Trader, error) {
	canonical, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	if trader, ok := f.traders[canonical]; ok {
		f.mu.RUnlock()
		return trader, nil
	}
	f.mu.RUnlock()

	buildMu := f.buildLock(canonical)
	buildMu.Lock()
	defer buildMu.Unlock()

	f.mu.RLock()
	if trader, ok := f.traders[canonical]; ok {
		f.mu.RUnlock()
		return trader, nil
	}
	f.mu.RUnlock()

	trader, err := f.build(canonical)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.traders[canonical] = trader
	f.mu.Unlock()

	f.log.Infof("Initialized %s trader", canonical)
	return trader, nil
}

func (f *factory) GetDefault() (exchanges.Trader, error) {
	return f.Get(f.cfg.Exchanges.Default)
}

func (f *factory) ListEnabled() []string {
	names := make([]string, 0, 2)
	if f.cfg.Exchanges.Binance.Enabled {
		names = append(names, binance.Name)
	}
	if f.cfg.Exchanges.Hyperliquid.Enabled {
		names = append(names, hyperliquid.Name)
	}
	sort.Strings(names)
	return names
}

// Close stops background streams owned by the factory.
func (f *factory) Close() error {
	f.mu.Lock()
	streams := f.streams
	f.streams = nil
	f.mu.Unlock()

	var firstErr error
	for _, stream := range streams {
		if err := stream.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f *factory) buildLock(canonical string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mu, ok := f.building[canonical]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	f.building[canonical] = mu
	return mu
}

func (f *factory) build(canonical string) (exchanges.Trader, error) {
	switch canonical {
	case binance.Name:
		return f.buildBinance()
	case hyperliquid.Name:
		return f.buildHyperliquid()
	default:
		return nil, errors.Wrapf(exchanges.ErrConfiguration, "unknown exchange %q", canonical)
	}
}

func (f *factory) buildBinance() (exchanges.Trader, error) {
	cfg := f.cfg.Exchanges.Binance
	if !cfg.Enabled {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "binance_futures is disabled")
	}

	bundle, err := f.resolver(credentials.Descriptor{
		Exchange:  binance.Name,
		Auth:      credentials.AuthAPIKeySecret,
		Source:    credentialSource(cfg.CredentialsFile),
		KeyVar:    cfg.APIKeyVar,
		SecretVar: cfg.SecretKeyVar,
		Path:      cfg.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}

	table, err := symbols.NewTable(
		binance.Name,
		symbols.FilterRules(symbols.BinanceFuturesRules(), cfg.Symbols),
		symbols.BinanceFuturesOrderTypes(),
		symbols.BinanceFuturesTIFs(),
	)
	if err != nil {
		return nil, err
	}

	gate := ratelimit.NewGate(binance.Name, ratelimit.GateConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		OrdersPerMinute:   cfg.OrdersPerMinute,
		MaxWait:           cfg.RateLimitMaxWait,
	})

	traderCfg := binance.Config{
		Credentials:     bundle,
		Testnet:         cfg.Testnet,
		BaseURL:         cfg.BaseURL,
		Table:           table,
		Gate:            gate,
		DefaultLeverage: cfg.DefaultLeverage,
		MaxLeverage:     cfg.MaxLeverage,
		MakerFee:        decimal.NewFromFloat(cfg.MakerFee),
		TakerFee:        decimal.NewFromFloat(cfg.TakerFee),
	}

	if cfg.MarkPriceStream {
		natives := make([]string, 0, len(table.Symbols()))
		for _, canonical := range table.Symbols() {
			native, err := table.ToNative(canonical)
			if err != nil {
				continue
			}
			natives = append(natives, native)
		}

		stream := websocket.NewMarkPriceStream(cfg.WSURL, cfg.Testnet, natives)
		if err := stream.Start(context.Background()); err != nil {
			f.log.Warnf("Mark price stream unavailable, falling back to REST: %v", err)
		} else {
			traderCfg.PriceSource = stream
			f.mu.Lock()
			f.streams = append(f.streams, stream)
			f.mu.Unlock()
		}
	}

	return binance.New(traderCfg)
}

func (f *factory) buildHyperliquid() (exchanges.Trader, error) {
	cfg := f.cfg.Exchanges.Hyperliquid
	if !cfg.Enabled {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "hyperliquid is disabled")
	}

	bundle, err := f.resolver(credentials.Descriptor{
		Exchange:      hyperliquid.Name,
		Auth:          credentials.AuthWalletPrivateKey,
		Source:        credentialSource(cfg.CredentialsFile),
		AddressVar:    cfg.WalletAddressVar,
		PrivateKeyVar: cfg.PrivateKeyVar,
		MainWalletVar: cfg.MainWalletVar,
		Path:          cfg.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}

	table, err := symbols.NewTable(
		hyperliquid.Name,
		symbols.FilterRules(symbols.HyperliquidRules(), cfg.Symbols),
		symbols.HyperliquidOrderTypes(),
		symbols.HyperliquidTIFs(),
	)
	if err != nil {
		return nil, err
	}

	gate := ratelimit.NewGate(hyperliquid.Name, ratelimit.GateConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		OrdersPerMinute:   cfg.OrdersPerMinute,
		MaxWait:           cfg.RateLimitMaxWait,
	})

	return hyperliquid.New(hyperliquid.Config{
		Credentials:     bundle,
		Testnet:         cfg.Testnet,
		BaseURL:         cfg.BaseURL,
		Table:           table,
		Gate:            gate,
		DefaultLeverage: cfg.DefaultLeverage,
		MaxLeverage:     cfg.MaxLeverage,
		MakerFee:        decimal.NewFromFloat(cfg.MakerFee),
		TakerFee:        decimal.NewFromFloat(cfg.TakerFee),
		SlippagePercent: decimal.NewFromFloat(cfg.SlippagePercent),
	})
}

func credentialSource(path string) credentials.SourceType {
	if path != "" {
		return credentials.SourceFile
	}
	return credentials.SourceEnv
}
