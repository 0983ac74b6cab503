package exchangefactory

import (
	"sync"

	"alphatrader/internal/adapters/exchanges"
	"alphatrader/pkg/errors"
)

var (
	globalMu      sync.RWMutex
	globalFactory exchanges.Factory
)

// SetGlobal installs the process-wide factory used by GetTrader.
func SetGlobal(f exchanges.Factory) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalFactory = f
}

// GetTrader fetches a trader from the global factory. Convenience for
// call sites that do not carry a factory around.
func GetTrader(name string) (exchanges.Trader, error) {
	globalMu.RLock()
	f := globalFactory
	globalMu.RUnlock()

	if f == nil {
		return nil, errors.Wrap(exchanges.ErrConfiguration, "exchange factory not initialized")
	}
	return f.Get(name)
}
