package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/hudacode/prayerlog/internal/bus"
)

// Subscriber maintains a WebSocket connection to the server's live update
// channel and hands each decoded event to a callback.
//
// Reconnection uses exponential backoff and gives up after MaxAttempts
// consecutive failures; a successful connection resets the counter. The
// cap exists so a dead server doesn't produce an infinite retry storm.
type Subscriber struct {
	client *Client
	logger *log.Logger

	// OnEvent receives every broadcast message, including the initial
	// connected handshake. Handlers should treat events as resync hints
	// and reconcile, not apply payloads directly.
	OnEvent func(bus.Message)

	// MaxAttempts bounds consecutive reconnection failures (default 6).
	MaxAttempts int

	// BaseDelay is the first backoff interval (default 1s); each failure
	// doubles it.
	BaseDelay time.Duration
}

// NewSubscriber creates a subscriber over the client's /ws endpoint.
// If logger is nil, a default logger writing to stderr is used.
func NewSubscriber(client *Client, onEvent func(bus.Message), logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(os.Stderr, "[subscribe] ", log.LstdFlags)
	}

	return &Subscriber{
		client:      client,
		logger:      logger,
		OnEvent:     onEvent,
		MaxAttempts: 6,
		BaseDelay:   time.Second,
	}
}

// Run connects and reads events until ctx is cancelled or the retry
// budget is exhausted. It returns nil on cancellation and an error when
// it gives up.
func (s *Subscriber) Run(ctx context.Context) error {
	wsURL, err := s.client.WebSocketURL()
	if err != nil {
		return err
	}

	attempts := 0
	delay := s.BaseDelay

	for {
		connected, err := s.readOnce(ctx, wsURL)
		if err == nil {
			// Clean shutdown via ctx.
			return nil
		}
		s.logger.Printf("Connection lost: %v", err)

		if connected {
			// The dial succeeded, so the budget starts over.
			attempts = 0
			delay = s.BaseDelay
		}

		attempts++
		if attempts >= s.MaxAttempts {
			return fmt.Errorf("giving up after %d connection attempts", attempts)
		}

		s.logger.Printf("Reconnecting in %v (attempt %d/%d)", delay, attempts, s.MaxAttempts)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// readOnce dials and reads until the connection drops or ctx ends.
// The bool reports whether the dial itself succeeded; the error is nil
// only for context cancellation.
func (s *Subscriber) readOnce(ctx context.Context, wsURL string) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.logger.Printf("Connected to %s", wsURL)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read failed: %w", err)
		}

		var msg bus.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Ignoring malformed message: %v", err)
			continue
		}

		if s.OnEvent != nil {
			s.OnEvent(msg)
		}
	}
}
