// handler.go exposes the feeds over HTTP:
//   - GET /stream/blocks: Server-Sent Events, one event per block emission
//   - GET /stream/prices: Server-Sent Events, one event per poll (?interval=5s)
//   - GET /price: one-shot price fetch
//
// A stream event carries the value as JSON on a single data line. Failures
// suppressed by the feed arrive as "event: empty", surfaced ones as
// "event: error". When the feed itself ends the stream sends "event: end"
// and closes.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/archon-research/stl/stl-feed/internal/pkg/either"
	"github.com/archon-research/stl/stl-feed/internal/pkg/observable"
	"github.com/archon-research/stl/stl-feed/internal/ports/inbound"
)

const (
	eventEmpty = "empty"
	eventError = "error"
	eventEnd   = "end"
)

// StreamHandlerConfig holds configuration for the stream handler.
type StreamHandlerConfig struct {
	// DefaultPollInterval is used by /stream/prices without ?interval.
	DefaultPollInterval time.Duration

	// MinPollInterval is the smallest ?interval a client may ask for.
	MinPollInterval time.Duration

	// KeepAlive is how often an idle stream sends a comment line.
	KeepAlive time.Duration

	// WriteTimeout bounds every write to a stream. A client that stops
	// reading is disconnected once a write runs into it.
	WriteTimeout time.Duration

	// Logger for the handler
	Logger *slog.Logger
}

// StreamHandlerConfigDefaults returns a config with default values.
func StreamHandlerConfigDefaults() StreamHandlerConfig {
	return StreamHandlerConfig{
		DefaultPollInterval: 10 * time.Second,
		MinPollInterval:     time.Second,
		KeepAlive:           15 * time.Second,
		WriteTimeout:        10 * time.Second,
		Logger:              slog.Default(),
	}
}

// StreamHandler implements the feed HTTP endpoints.
type StreamHandler struct {
	config  StreamHandlerConfig
	blocks  inbound.BlockFeed
	prices  inbound.PriceFeed
	querier inbound.PriceQuerier
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(config StreamHandlerConfig, blocks inbound.BlockFeed, prices inbound.PriceFeed, querier inbound.PriceQuerier) (*StreamHandler, error) {
	if blocks == nil {
		return nil, errors.New("block feed is required")
	}
	if prices == nil {
		return nil, errors.New("price feed is required")
	}
	if querier == nil {
		return nil, errors.New("price querier is required")
	}

	defaults := StreamHandlerConfigDefaults()
	if config.DefaultPollInterval <= 0 {
		config.DefaultPollInterval = defaults.DefaultPollInterval
	}
	if config.MinPollInterval <= 0 {
		config.MinPollInterval = defaults.MinPollInterval
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = defaults.KeepAlive
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &StreamHandler{
		config:  config,
		blocks:  blocks,
		prices:  prices,
		querier: querier,
		logger:  config.Logger.With("component", "stream-handler"),
	}, nil
}

// RegisterRoutes registers the HTTP routes with the given mux.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/blocks", h.StreamBlocks)
	mux.HandleFunc("GET /stream/prices", h.StreamPrices)
	mux.HandleFunc("GET /price", h.Price)
}

// StreamBlocks streams the block feed.
func (h *StreamHandler) StreamBlocks(w http.ResponseWriter, r *http.Request) {
	stream(h, w, r, "blocks", h.blocks.Observe(r.Context()))
}

// StreamPrices streams a price feed polled at ?interval.
func (h *StreamHandler) StreamPrices(w http.ResponseWriter, r *http.Request) {
	interval, err := h.pollInterval(r)
	if err != nil {
		respondJSON(h.logger, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	stream(h, w, r, "prices", h.prices.Observe(r.Context(), interval))
}

func (h *StreamHandler) pollInterval(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("interval")
	if raw == "" {
		return h.config.DefaultPollInterval, nil
	}
	interval, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", raw)
	}
	if interval < h.config.MinPollInterval {
		return 0, fmt.Errorf("interval must be at least %s", h.config.MinPollInterval)
	}
	return interval, nil
}

// Price fetches one price: 200 with the price, 204 when the fetch failure
// was suppressed, 502 when it was surfaced.
func (h *StreamHandler) Price(w http.ResponseWriter, r *http.Request) {
	emission := h.querier.FetchLatestPrice(r.Context())
	price, err := emission.ValueOrError()

	switch {
	case emission.IsSuccess():
		respondJSON(h.logger, w, http.StatusOK, price)
	case err != nil:
		respondJSON(h.logger, w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func stream[T any](h *StreamHandler, w http.ResponseWriter, r *http.Request, name string, feed observable.Observable[either.Either[T]]) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout; every write gets its own deadline.
	extendDeadline := func() {
		_ = rc.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
	}
	extendDeadline()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming not supported", "stream", name, "error", err)
		return
	}

	ctx := r.Context()
	observer := feed.Subscribe(ctx)
	defer observer.Unsubscribe()

	h.logger.Debug("stream opened", "stream", name, "remote", r.RemoteAddr)
	defer h.logger.Debug("stream closed", "stream", name, "remote", r.RemoteAddr)

	keepAlive := time.NewTicker(h.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			extendDeadline()
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
		case emission, ok := <-observer.Ch():
			extendDeadline()
			if !ok {
				if ctx.Err() == nil {
					_ = writeEvent(w, eventEnd, struct{}{})
					_ = rc.Flush()
				}
				return
			}
			err = writeEmission(w, emission)
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			h.logger.Debug("stream write failed", "stream", name, "error", err)
			return
		}
	}
}

func writeEmission[T any](w http.ResponseWriter, emission either.Either[T]) error {
	value, err := emission.ValueOrError()
	switch {
	case emission.IsSuccess():
		return writeEvent(w, "", value)
	case err != nil:
		return writeEvent(w, eventError, map[string]string{"error": err.Error()})
	default:
		return writeEvent(w, eventEmpty, struct{}{})
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
