package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/models"
)

// StreamConfig holds configuration for the streaming feed consumer.
type StreamConfig struct {
	URL         string
	Schema      SchemaHint
	BufferSize  int
	MaxRetries  int
	BaseDelay   time.Duration
	DialTimeout time.Duration
}

// Stream consumes the brokerage websocket feed, normalizes each payload and
// fans ticks out to display consumers. Malformed ticks are counted and
// dropped; they never stall the stream. Consumers receive over buffered
// channels and slow consumers lose ticks rather than block the read loop.
type Stream struct {
	cfg    StreamConfig
	logger *logrus.Logger
	dial   func(ctx context.Context, url string) (wsConn, error)

	mu        sync.RWMutex
	consumers []chan models.Tick
	lastTick  *models.Tick
	dropped   uint64
	malformed uint64
}

// wsConn is the subset of *websocket.Conn the stream needs; tests substitute
// a scripted connection.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// NewStream creates a streaming feed consumer.
func NewStream(cfg StreamConfig, logger *logrus.Logger) *Stream {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	s := &Stream{cfg: cfg, logger: logger}
	s.dial = s.dialWebsocket
	return s
}

func (s *Stream) dialWebsocket(ctx context.Context, url string) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Subscribe registers a new tick consumer and returns its receive channel.
// The channel is closed when the stream shuts down.
func (s *Stream) Subscribe() <-chan models.Tick {
	ch := make(chan models.Tick, s.cfg.BufferSize)
	s.mu.Lock()
	s.consumers = append(s.consumers, ch)
	s.mu.Unlock()
	return ch
}

// LastTick returns a copy of the most recent good tick, if any.
func (s *Stream) LastTick() (models.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTick == nil {
		return models.Tick{}, false
	}
	return *s.lastTick, true
}

// Stats returns the running malformed and dropped tick counters.
func (s *Stream) Stats() (malformed, dropped uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.malformed, s.dropped
}

// Run connects to the feed and processes messages until ctx is canceled.
// Connection failures reconnect with capped exponential backoff; the retry
// budget resets after every successful connection.
func (s *Stream) Run(ctx context.Context) error {
	defer s.closeConsumers()

	retries := 0
	delay := s.cfg.BaseDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := s.dial(ctx, s.cfg.URL)
		if err != nil {
			retries++
			if retries > s.cfg.MaxRetries {
				return errors.New("feed: retry budget exhausted")
			}
			s.logger.WithError(err).Warnf("feed: connect attempt %d/%d failed, retrying in %v",
				retries, s.cfg.MaxRetries, delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = minDuration(delay*2, 30*time.Second)
			continue
		}

		retries = 0
		delay = s.cfg.BaseDelay
		s.logger.Infof("feed: connected to %s", s.cfg.URL)
		if err := s.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("feed: connection lost, reconnecting")
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn wsConn) error {
	defer func() { _ = conn.Close() }()

	// Close the socket when ctx is canceled so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.OnTick(payload, s.cfg.Schema)
	}
}

// OnTick is the entry point invoked for each raw feed message. It must not
// block the caller's delivery path: fan-out uses non-blocking sends and a
// full consumer buffer loses the tick.
func (s *Stream) OnTick(payload []byte, schema SchemaHint) {
	s.mu.RLock()
	prev := s.lastTick
	s.mu.RUnlock()

	tick, err := Normalize(payload, schema, prev)
	if err != nil {
		s.mu.Lock()
		s.malformed++
		n := s.malformed
		s.mu.Unlock()
		var nerr *NormalizationError
		if errors.As(err, &nerr) {
			s.logger.WithFields(logrus.Fields{
				"reason": nerr.Reason,
				"field":  nerr.Field,
				"total":  n,
			}).Debug("feed: dropped malformed tick")
		}
		return
	}

	s.mu.Lock()
	s.lastTick = &tick
	consumers := s.consumers
	s.mu.Unlock()

	for _, ch := range consumers {
		select {
		case ch <- tick:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

func (s *Stream) closeConsumers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.consumers {
		close(ch)
	}
	s.consumers = nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
