package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamConfig configures PriceStream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// StaleAfter bounds how old a streamed quote may be before the
	// stream reports the token unavailable.
	StaleAfter time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		StaleAfter:        2 * time.Minute,
	}
}

// streamQuote is an inbound price update.
type streamQuote struct {
	Mint        string  `json:"mint"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"ts"`
}

// subscribeMessage is the outbound subscription request.
type subscribeMessage struct {
	Type  string   `json:"type"`
	Mints []string `json:"mints"`
}

// PriceStream maintains a WebSocket connection to a live price feed and
// caches the latest quote per subscribed mint. It implements PriceSource
// so it can sit first in the gateway's fallback chain, answering from
// memory without an HTTP round trip.
type PriceStream struct {
	endpoint string
	config   StreamConfig
	logger   zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// quotes holds the latest streamed price per mint
	quotes   map[string]streamQuote
	quotesMu sync.RWMutex

	// subscribed mints, replayed after reconnect
	subs   map[string]struct{}
	subsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// NewPriceStream connects to the feed endpoint and starts the read and
// ping loops. Call Close to release the connection.
func NewPriceStream(ctx context.Context, endpoint string, config *StreamConfig, logger zerolog.Logger) (*PriceStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &PriceStream{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		quotes:   make(map[string]streamQuote),
		subs:     make(map[string]struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// Name implements PriceSource.
func (s *PriceStream) Name() string { return "stream" }

// FetchPrice implements PriceSource from the quote cache. A mint with no
// fresh quote returns ErrUnavailable so the gateway falls through to the
// HTTP providers.
func (s *PriceStream) FetchPrice(_ context.Context, mint string) (float64, error) {
	s.quotesMu.RLock()
	q, ok := s.quotes[mint]
	s.quotesMu.RUnlock()

	if !ok {
		return 0, ErrUnavailable
	}
	if s.now().UnixMilli()-q.TimestampMs > s.config.StaleAfter.Milliseconds() {
		return 0, ErrUnavailable
	}
	return q.Price, nil
}

// Subscribe requests live quotes for the given mints. Subscriptions
// survive reconnects.
func (s *PriceStream) Subscribe(mints ...string) error {
	if s.closed.Load() {
		return fmt.Errorf("stream closed")
	}

	s.subsMu.Lock()
	for _, m := range mints {
		s.subs[m] = struct{}{}
	}
	s.subsMu.Unlock()

	return s.writeJSON(subscribeMessage{Type: "subscribe", Mints: mints})
}

// Close shuts down the stream and waits for loops to exit.
func (s *PriceStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *PriceStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.config.WriteTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

func (s *PriceStream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(s.now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *PriceStream) readLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			s.reconnect()
			continue
		}

		conn.SetReadDeadline(s.now().Add(s.config.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Warn().Err(err).Msg("stream read failed, reconnecting")
			s.reconnect()
			continue
		}

		var q streamQuote
		if err := json.Unmarshal(msg, &q); err != nil {
			s.logger.Debug().Err(err).Msg("dropping unparseable stream message")
			continue
		}
		if q.Mint == "" || q.Price <= 0 {
			continue
		}
		if q.TimestampMs == 0 {
			q.TimestampMs = s.now().UnixMilli()
		}

		s.quotesMu.Lock()
		s.quotes[q.Mint] = q
		s.quotesMu.Unlock()
	}
}

func (s *PriceStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			if conn != nil {
				conn.SetWriteDeadline(s.now().Add(s.config.WriteTimeout))
				conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

// reconnect re-establishes the connection with exponential backoff and
// replays active subscriptions.
func (s *PriceStream) reconnect() {
	delay := s.config.ReconnectDelay

	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		err := s.connect(ctx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("stream reconnect failed")
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
			continue
		}

		s.subsMu.Lock()
		mints := make([]string, 0, len(s.subs))
		for m := range s.subs {
			mints = append(mints, m)
		}
		s.subsMu.Unlock()

		if len(mints) > 0 {
			if err := s.writeJSON(subscribeMessage{Type: "subscribe", Mints: mints}); err != nil {
				s.logger.Warn().Err(err).Msg("resubscribe failed")
			}
		}

		s.logger.Info().Int("subscriptions", len(mints)).Msg("stream reconnected")
		return
	}
}
