package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MacroPulse/internal/domain/models"
	"MacroPulse/pkg/logger"
	"MacroPulse/pkg/util"
)

// StreamConfig configures a WebSocket trade stream.
type StreamConfig struct {
	URL            string
	APIKey         string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	MaxAge         time.Duration // 0 disables the staleness check
}

type quote struct {
	price float64
	at    time.Time
}

// Stream keeps the last traded price per symbol from a Finnhub-style
// subscribe protocol and serves it on Fetch.
type Stream struct {
	name string
	cfg  StreamConfig
	log  *logger.Logger
	now  func() time.Time

	wmu sync.Mutex // serializes websocket writes

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	last      map[string]quote
}

// NewStream creates a stream adapter. Call Run to start receiving trades.
func NewStream(name string, cfg StreamConfig, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Stream{name: name, cfg: cfg, log: log, now: time.Now, last: make(map[string]quote)}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Fetch(_ context.Context, symbol string) (models.RawObservation, error) {
	s.mu.RLock()
	q, ok := s.last[symbol]
	connected := s.connected
	s.mu.RUnlock()

	if !ok {
		if !connected {
			return models.RawObservation{}, NewTransient(s.name, symbol, ErrNotConnected)
		}
		return models.RawObservation{}, NewTransient(s.name, symbol, ErrNoData)
	}
	if s.cfg.MaxAge > 0 && s.now().Sub(q.at) > s.cfg.MaxAge {
		return models.RawObservation{}, NewTransient(s.name, symbol, fmt.Errorf("%w: last trade at %s", ErrStaleData, q.at.Format(time.RFC3339)))
	}
	return models.RawObservation{IndicatorID: symbol, Value: q.price, FetchedAt: q.at}, nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Run connects, subscribes and reads until ctx is done, reconnecting on errors.
func (s *Stream) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		s.closeConn()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("stream disconnected",
			logger.String("source", s.name),
			logger.Error(err),
			logger.Duration("retry_in", s.cfg.ReconnectDelay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", s.cfg.URL, s.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.wmu.Lock()
	for _, sym := range s.cfg.Symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym}); err != nil {
			s.wmu.Unlock()
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.wmu.Unlock()
	s.log.Info("stream subscribed", logger.String("source", s.name), logger.Strings("symbols", s.cfg.Symbols))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.ping(sessCtx, conn)
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		s.handle(b)
	}
}

func (s *Stream) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wmu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

type streamTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type streamMessage struct {
	Type string        `json:"type"`
	Data []streamTrade `json:"data"`
}

func (s *Stream) handle(b []byte) {
	var m streamMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		// ignore pings and non-trade frames
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range m.Data {
		if CheckFinite(d.P) != nil {
			continue
		}
		at := util.FromUnixMillis(d.T)
		if prev, ok := s.last[d.S]; ok && at.Before(prev.at) {
			continue
		}
		s.last[d.S] = quote{price: d.P, at: at}
	}
}

func (s *Stream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
