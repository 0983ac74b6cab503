package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alphatrader/internal/adapters/exchanges"
	"alphatrader/pkg/errors"
)

var (
	// Exchange metrics
	ExchangeAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphatrader_exchange_api_calls_total",
			Help: "Total number of exchange API calls",
		},
		[]string{"exchange", "endpoint", "status"}, // status: success|error|rate_limited
	)

	ExchangeAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphatrader_exchange_api_errors_total",
			Help: "Total number of exchange API errors",
		},
		[]string{"exchange", "error_type"},
	)

	ExchangeAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alphatrader_exchange_api_latency_seconds",
			Help:    "Exchange API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"exchange", "endpoint"},
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphatrader_orders_placed_total",
			Help: "Total number of orders submitted to exchanges",
		},
		[]string{"exchange", "symbol", "side", "status"},
	)

	RateLimiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alphatrader_rate_limiter_rejections_total",
			Help: "Requests rejected because the rate limit wait ceiling was hit",
		},
		[]string{"exchange", "class"},
	)

	WebSocketConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alphatrader_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
		[]string{"exchange", "stream"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(ExchangeAPICalls)
	prometheus.MustRegister(ExchangeAPIErrors)
	prometheus.MustRegister(ExchangeAPILatency)
	prometheus.MustRegister(OrdersPlaced)
	prometheus.MustRegister(RateLimiterRejections)
	prometheus.MustRegister(WebSocketConnections)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordExchangeAPICall records an exchange API call
func RecordExchangeAPICall(exchange, endpoint string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, exchanges.ErrRateLimited) {
			status = "rate_limited"
		}
	}

	ExchangeAPICalls.WithLabelValues(exchange, endpoint, status).Inc()
	ExchangeAPILatency.WithLabelValues(exchange, endpoint).Observe(latency.Seconds())

	if err != nil {
		ExchangeAPIErrors.WithLabelValues(exchange, errorType(err)).Inc()
	}
}

// RecordOrderPlaced records an order submission outcome
func RecordOrderPlaced(exchange, symbol string, side exchanges.OrderSide, status exchanges.OrderStatus) {
	OrdersPlaced.WithLabelValues(exchange, symbol, string(side), string(status)).Inc()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, exchanges.ErrAuthentication):
		return "authentication"
	case errors.Is(err, exchanges.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, exchanges.ErrConnection):
		return "connection"
	case errors.Is(err, exchanges.ErrOrderRejected):
		return "order_rejected"
	case errors.Is(err, exchanges.ErrUnsupportedSymbol):
		return "unsupported_symbol"
	case errors.Is(err, exchanges.ErrInvalidOrderParams):
		return "invalid_params"
	default:
		return "unknown"
	}
}
