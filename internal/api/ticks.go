package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/tessera/internal/host"
	"github.com/MrWong99/tessera/internal/observe"
)

// defaultSubscriberBuffer is the number of reports queued per subscriber
// before new reports are dropped for it.
const defaultSubscriberBuffer = 64

// writeTimeout bounds a single websocket frame write.
const writeTimeout = 5 * time.Second

type subscriber struct {
	ch    chan []byte
	every uint64
}

// TickHub fans tick reports out to websocket subscribers.
//
// [TickHub.Publish] never blocks: a subscriber that falls behind loses
// reports instead of stalling the tick loop.
type TickHub struct {
	metrics *observe.Metrics
	buffer  int
	origins []string

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped uint64
}

// TickHubOption configures a [TickHub].
type TickHubOption func(*TickHub)

// WithSubscriberBuffer sets the per-subscriber queue length.
func WithSubscriberBuffer(n int) TickHubOption {
	return func(h *TickHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients matching the
// given host patterns.
func WithOriginPatterns(patterns ...string) TickHubOption {
	return func(h *TickHub) { h.origins = patterns }
}

// NewTickHub creates an empty hub. m may be nil.
func NewTickHub(m *observe.Metrics, opts ...TickHubOption) *TickHub {
	h := &TickHub{
		metrics: m,
		buffer:  defaultSubscriberBuffer,
		subs:    make(map[*subscriber]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish sends r to every subscriber. It satisfies [host.TickObserver].
func (h *TickHub) Publish(r host.TickReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		slog.Warn("ticks: failed to encode report", "tick", r.Tick, "err", err)
		return
	}
	for s := range h.subs {
		if s.every > 1 && r.Tick%s.every != 0 {
			continue
		}
		select {
		case s.ch <- data:
		default:
			h.dropped++
		}
	}
}

// Subscribers returns the number of connected clients.
func (h *TickHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of reports discarded for slow subscribers.
func (h *TickHub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *TickHub) subscribe(ctx context.Context, every uint64) *subscriber {
	s := &subscriber{ch: make(chan []byte, h.buffer), every: every}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.TickSubscribers.Add(ctx, 1)
	}
	return s
}

func (h *TickHub) unsubscribe(ctx context.Context, s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.TickSubscribers.Add(ctx, -1)
	}
}

// ServeHTTP upgrades the request to a websocket and streams tick reports as
// JSON text frames until the client goes away. The optional every query
// parameter thins the stream to every n-th tick.
func (h *TickHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var every uint64 = 1
	if v := r.URL.Query().Get("every"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			writeError(w, http.StatusBadRequest, errInvalidEvery)
			return
		}
		every = n
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("ticks: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx := conn.CloseRead(r.Context())

	s := h.subscribe(ctx, every)
	defer h.unsubscribe(context.WithoutCancel(ctx), s)

	log := observe.Logger(ctx)
	log.Debug("ticks: subscriber connected", "every", every)

	for {
		select {
		case <-ctx.Done():
			log.Debug("ticks: subscriber gone")
			return
		case data := <-s.ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("ticks: write failed", "err", err)
				return
			}
		}
	}
}

type apiError string

func (e apiError) Error() string { return string(e) }

const errInvalidEvery = apiError("every must be a positive integer")
