package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"alphatrader/internal/metrics"
	"alphatrader/pkg/errors"
	"alphatrader/pkg/logger"
)

const (
	binanceFuturesWSURL = "wss://fstream.binance.com/ws"
	binanceTestnetWSURL = "wss://stream.binancefuture.com/ws"
	pingInterval        = 3 * time.Minute
	readTimeout         = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// ErrNotConnected is returned when an operation needs an open connection.
var ErrNotConnected = errors.New("websocket not connected")

// MarkPriceStream maintains a live mark price cache over the Binance
// futures <symbol>@markPrice streams. Prices read through it avoid a
// REST round trip on the hot path.
type MarkPriceStream struct {
	url       string
	symbols   []string
	conn      *websocket.Conn
	connected bool
	mu        sync.RWMutex
	wg        sync.WaitGroup
	log       *logger.Logger

	prices map[string]decimal.Decimal

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMarkPriceStream creates a stream for the given native symbols.
// An empty url selects the production endpoint.
func NewMarkPriceStream(url string, testnet bool, symbols []string) *MarkPriceStream {
	if url == "" {
		url = binanceFuturesWSURL
		if testnet {
			url = binanceTestnetWSURL
		}
	}

	return &MarkPriceStream{
		url:     url,
		symbols: symbols,
		log:     logger.Get().With("component", "markprice_ws"),
		prices:  make(map[string]decimal.Decimal),
		done:    make(chan struct{}),
	}
}

// Start connects and subscribes to the mark price streams.
func (s *MarkPriceStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to mark price stream")
	}

	s.conn = conn
	s.connected = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.subscribe(); err != nil {
		s.conn.Close()
		s.conn = nil
		s.connected = false
		return err
	}

	s.wg.Add(1)
	go s.readMessages()

	s.wg.Add(1)
	go s.pingLoop()

	metrics.WebSocketConnections.WithLabelValues("binance_futures", "mark_price").Inc()
	s.log.Infof("Mark price stream connected for %d symbols", len(s.symbols))
	return nil
}

// Stop closes the connection and waits for the goroutines to exit.
func (s *MarkPriceStream) Stop() error {
	s.mu.Lock()

	if !s.connected {
		s.mu.Unlock()
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.done:
	default:
		close(s.done)
	}

	if s.conn != nil {
		err := s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(1*time.Second),
		)
		if err != nil {
			s.log.Warnf("Error sending close message: %v", err)
		}

		s.conn.Close()
		s.conn = nil
	}

	s.connected = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.log.Warn("Mark price stream shutdown timed out after 10s")
		return errors.Wrap(errors.ErrTimeout, "websocket shutdown timeout")
	}

	metrics.WebSocketConnections.WithLabelValues("binance_futures", "mark_price").Dec()
	return nil
}

// Price returns the cached mark price for a native symbol.
func (s *MarkPriceStream) Price(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[strings.ToUpper(symbol)]
	return price, ok
}

// IsConnected returns connection status.
func (s *MarkPriceStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MarkPriceStream) subscribe() error {
	params := make([]string, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		params = append(params, strings.ToLower(symbol)+"@markPrice")
	}

	// {"method":"SUBSCRIBE","params":["btcusdt@markPrice"],"id":1}
	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     time.Now().Unix(),
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	if err := s.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "failed to send subscription")
	}

	return nil
}

func (s *MarkPriceStream) readMessages() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		default:
			// Read deadline lets the loop check the context periodically
			if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
				s.log.Errorf("Failed to set read deadline: %v", err)
				return
			}

			_, message, err := s.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Info("Mark price stream closed normally")
					return
				}

				if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
					continue
				}

				s.log.Errorf("Error reading message: %v", err)
				return
			}

			s.processMessage(message)
		}
	}
}

func (s *MarkPriceStream) processMessage(message []byte) {
	var event struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Price  string `json:"p"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		s.log.Errorf("Failed to unmarshal message: %v", err)
		return
	}

	if event.Event != "markPriceUpdate" {
		return
	}

	price, err := decimal.NewFromString(event.Price)
	if err != nil {
		s.log.Warnf("Bad mark price %q for %s", event.Price, event.Symbol)
		return
	}

	s.mu.Lock()
	s.prices[strings.ToUpper(event.Symbol)] = price
	s.mu.Unlock()
}

func (s *MarkPriceStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.log.Warnf("Ping failed: %v", err)
			}
		}
	}
}

func (s *MarkPriceStream) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.conn == nil {
		return ErrNotConnected
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
