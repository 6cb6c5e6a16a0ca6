package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const DefaultCallTimeout = 15 * time.Second

var (
	ErrChannelClosed = errors.New("gateway channel closed")
	errDuplicateID   = errors.New("duplicate request id")
)

type frameConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// Channel multiplexes request/response calls over one connection. Responses
// are matched to callers by id only, so calls complete in any order.
type Channel struct {
	conn    frameConn
	timeout time.Duration
	newID   func() string
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool
	done    chan struct{}
	err     error
}

type ChannelOption func(*Channel)

func WithCallTimeout(timeout time.Duration) ChannelOption {
	return func(c *Channel) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithIDGenerator(newID func() string) ChannelOption {
	return func(c *Channel) {
		if newID != nil {
			c.newID = newID
		}
	}
}

func WithLogger(logger *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewChannel(conn frameConn, opts ...ChannelOption) *Channel {
	c := &Channel{
		conn:    conn,
		timeout: DefaultCallTimeout,
		newID:   uuid.NewString,
		logger:  slog.Default(),
		pending: map[string]chan Response{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads frames until the connection fails or ctx ends. Pending calls
// are released with ErrChannelClosed when it returns.
func (c *Channel) Run(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.shutdown(err)
			return err
		}
		c.dispatch(data)
	}
}

// Call resolves to the payload of a successful response. A failed response
// yields *domain.CallError and a missing one domain.ErrCallTimeout.
func (c *Channel) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := c.Do(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, resp.callError(method)
	}
	return resp.Payload, nil
}

// Do sends one request and waits for the matching response frame, whatever
// its outcome.
func (c *Channel) Do(ctx context.Context, method string, params any) (Response, error) {
	if params == nil {
		params = map[string]any{}
	}

	id := c.newID()
	slot := make(chan Response, 1)
	if err := c.register(id, slot); err != nil {
		return Response{}, fmt.Errorf("%s: %w", method, err)
	}
	defer c.unregister(id)

	frame, err := json.Marshal(Request{Type: frameTypeRequest, ID: id, Method: method, Params: params})
	if err != nil {
		return Response{}, fmt.Errorf("encode %s request: %w", method, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return Response{}, fmt.Errorf("send %s request: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-slot:
		return resp, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("%s: %w", method, domain.ErrCallTimeout)
	case <-c.done:
		return Response{}, fmt.Errorf("%s: %w", method, c.closeErr())
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Pending reports the number of calls still waiting for a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the read loop has stopped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) register(id string, slot chan Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.err
	}
	if _, exists := c.pending[id]; exists {
		return fmt.Errorf("%w %q", errDuplicateID, id)
	}
	c.pending[id] = slot
	return nil
}

func (c *Channel) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) dispatch(data []byte) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Debug("discarding malformed gateway frame", "error", err, "bytes", len(data))
		return
	}
	if resp.ID == "" {
		c.logger.Debug("discarding gateway frame without id", "type", resp.Type)
		return
	}

	c.mu.Lock()
	slot, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding unmatched gateway frame", "id", resp.ID, "type", resp.Type)
		return
	}
	slot <- resp
}

func (c *Channel) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.err = fmt.Errorf("%w: %w", ErrChannelClosed, cause)
	clear(c.pending)
	close(c.done)
}

func (c *Channel) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
