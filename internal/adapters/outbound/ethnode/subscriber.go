// Package ethnode provides adapters for an Ethereum node: a WebSocket
// eth_newHeads subscriber and a JSON-RPC block client.
package ethnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/stl/stl-feed/internal/pkg/hexutil"
	"github.com/archon-research/stl/stl-feed/internal/pkg/retry"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that Subscriber implements outbound.HeaderSubscriber
var _ outbound.HeaderSubscriber = (*Subscriber)(nil)

// ErrSubscriberClosed is returned when subscribing to a closed subscriber.
var ErrSubscriberClosed = errors.New("subscriber is closed")

// Subscriber streams new block headers from a node's eth_newHeads
// subscription and reconnects when the connection is lost.
type Subscriber struct {
	config SubscriberConfig
	logger *slog.Logger

	// mu protects the fields below.
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	conn           *websocket.Conn
	subscriptionID string
	started        bool
	closed         bool

	done             chan struct{}
	headers          chan outbound.BlockHeader
	closeHeadersOnce sync.Once

	lastHeaderTime atomic.Int64
}

// NewSubscriber creates a new node WebSocket subscriber with automatic reconnection.
func NewSubscriber(config SubscriberConfig) (*Subscriber, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()
	return &Subscriber{
		config:  config,
		logger:  config.Logger.With("component", "ethnode-subscriber"),
		done:    make(chan struct{}),
		headers: make(chan outbound.BlockHeader, config.ChannelBufferSize),
	}, nil
}

// Subscribe starts listening for new block headers via eth_newHeads.
// A Subscriber serves a single subscription; calling Subscribe again fails.
func (s *Subscriber) Subscribe(ctx context.Context) (<-chan outbound.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSubscriberClosed
	}
	if s.started {
		return nil, errors.New("subscriber is already subscribed")
	}
	s.started = true

	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.connectionManager(s.ctx)

	return s.headers, nil
}

// connectionManager manages the WebSocket connection with automatic reconnection.
// It owns the header channel and closes it when it returns.
func (s *Subscriber) connectionManager(ctx context.Context) {
	defer s.closeHeaders()
	defer s.closeConnection()

	backoff := retry.NewBackoff(retry.Config{
		InitialBackoff: s.config.InitialBackoff,
		MaxBackoff:     s.config.MaxBackoff,
		BackoffFactor:  s.config.BackoffFactor,
	})
	failures := 0
	connectedBefore := false

	for {
		if s.stopped(ctx) {
			return
		}

		conn, err := s.connectAndSubscribe(ctx)
		if err != nil {
			failures++
			if s.config.MaxReconnectAttempts > 0 && failures >= s.config.MaxReconnectAttempts {
				s.logger.Error("giving up on node connection", "attempts", failures, "error", err)
				return
			}

			wait := backoff.Next()
			s.logger.Warn("failed to connect", "error", err, "attempt", failures, "backoff", wait)
			if retry.Sleep(ctx, wait) != nil {
				return
			}
			continue
		}

		failures = 0
		backoff.Reset()
		if connectedBefore && s.config.Telemetry != nil {
			s.config.Telemetry.RecordReconnection(ctx)
		}
		connectedBefore = true
		s.logger.Info("connected to node WebSocket", "subscription", s.currentSubscriptionID())

		if s.config.Telemetry != nil {
			s.config.Telemetry.RecordConnectionUp(ctx)
		}
		s.readLoop(ctx, conn)
		if s.config.Telemetry != nil {
			s.config.Telemetry.RecordConnectionDown(context.WithoutCancel(ctx))
		}

		if s.stopped(ctx) {
			return
		}
		s.logger.Warn("node WebSocket connection lost, reconnecting")
	}
}

func (s *Subscriber) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// connectAndSubscribe dials the node, subscribes to newHeads and installs
// the connection once the subscription is confirmed.
func (s *Subscriber) connectAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WebSocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node WebSocket: %w", err)
	}

	subscriptionID, err := s.subscribeNewHeads(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, ErrSubscriberClosed
	}
	s.conn = conn
	s.subscriptionID = subscriptionID

	return conn, nil
}

// subscribeNewHeads sends eth_subscribe and returns the subscription id.
func (s *Subscriber) subscribeNewHeads(conn *websocket.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		return "", fmt.Errorf("failed to set read deadline: %w", err)
	}

	subscribeReq := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      subscribeRequestID,
		Method:  "eth_subscribe",
		Params:  []any{"newHeads"},
	}
	if err := conn.WriteJSON(subscribeReq); err != nil {
		return "", fmt.Errorf("failed to send subscription request: %w", err)
	}

	var response jsonRPCResponse
	if err := conn.ReadJSON(&response); err != nil {
		return "", fmt.Errorf("failed to read subscription response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("subscription failed: %w", response.Error)
	}

	var subscriptionID string
	if err := json.Unmarshal(response.Result, &subscriptionID); err != nil {
		return "", fmt.Errorf("failed to parse subscription id: %w", err)
	}
	return subscriptionID, nil
}

// readLoop forwards block headers from conn until the connection fails or
// the subscriber stops. It also sends periodic pings to keep the connection alive.
func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	stop := make(chan struct{})
	defer close(stop)

	readErr := make(chan error, 1)
	headerCh := make(chan outbound.BlockHeader, 10)
	subscriptionID := s.currentSubscriptionID()

	go func() {
		for {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("failed to set read deadline: %w", err)
				return
			}

			var response jsonRPCResponse
			if err := conn.ReadJSON(&response); err != nil {
				readErr <- err
				return
			}

			if response.Method != "eth_subscription" || response.Params == nil {
				continue
			}

			var params subscriptionParams
			if err := json.Unmarshal(response.Params, &params); err != nil {
				s.logger.Warn("failed to parse subscription params", "error", err)
				continue
			}
			if params.Subscription != subscriptionID {
				continue
			}

			select {
			case headerCh <- params.Result:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case err := <-readErr:
			if !s.stopped(ctx) {
				s.logger.Warn("read error", "error", err)
			}
			s.closeConnection()
			return
		case header := <-headerCh:
			s.forward(ctx, header)
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.PongTimeout)); err != nil {
				s.logger.Warn("ping failed", "error", err)
				s.closeConnection()
				return
			}
		}
	}
}

// forward hands header to the consumer, dropping it if the buffer is full.
func (s *Subscriber) forward(ctx context.Context, header outbound.BlockHeader) {
	blockNum, err := hexutil.ParseUint64(header.Number)
	if err != nil {
		s.logger.Debug("header with unparsable number", "number", header.Number, "error", err)
	}

	select {
	case s.headers <- header:
		s.lastHeaderTime.Store(time.Now().Unix())
		if s.config.Telemetry != nil {
			s.config.Telemetry.RecordHeaderReceived(ctx)
		}
		s.logger.Debug("block header forwarded",
			"block", blockNum,
			"hash", hexutil.TruncateHash(header.Hash),
		)
	default:
		if s.config.Telemetry != nil {
			s.config.Telemetry.RecordHeaderDropped(ctx)
		}
		s.logger.Warn("block header channel full, dropping header",
			"block", blockNum,
			"hash", hexutil.TruncateHash(header.Hash),
		)
	}
}

func (s *Subscriber) currentSubscriptionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionID
}

// closeConnection safely closes the current WebSocket connection.
func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.subscriptionID = ""
	}
}

func (s *Subscriber) closeHeaders() {
	s.closeHeadersOnce.Do(func() { close(s.headers) })
}

// Unsubscribe stops the subscription, sends eth_unsubscribe for the active
// node subscription and closes the WebSocket connection. The header channel
// is closed once the connection manager has stopped.
func (s *Subscriber) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.cancel != nil {
		s.cancel()
	}
	if !s.started {
		s.closeHeaders()
	}

	if s.conn == nil {
		return nil
	}

	if s.subscriptionID != "" {
		unsubscribeReq := jsonRPCRequest{
			JSONRPC: "2.0",
			ID:      unsubscribeRequestID,
			Method:  "eth_unsubscribe",
			Params:  []any{s.subscriptionID},
		}
		if err := s.conn.WriteJSON(unsubscribeReq); err != nil {
			s.logger.Debug("eth_unsubscribe failed", "error", err)
		}
	}

	err := s.conn.Close()
	s.conn = nil
	s.subscriptionID = ""
	return err
}

// HealthCheck verifies the WebSocket connection is operational and receiving headers.
func (s *Subscriber) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	lastHeaderTime := s.lastHeaderTime.Load()
	if lastHeaderTime > 0 {
		sinceLastHeader := time.Since(time.Unix(lastHeaderTime, 0))
		if sinceLastHeader > s.config.HealthTimeout {
			return fmt.Errorf("no headers received for %v (threshold: %v)", sinceLastHeader, s.config.HealthTimeout)
		}
	}

	if s.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WebSocketURL, nil)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		conn.Close()
		return nil
	}

	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.PongTimeout)); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
