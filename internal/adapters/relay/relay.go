package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/coder/websocket"
)

const (
	DefaultUpstreamURL = "ws://localhost:18789"
	DefaultOrigin      = "http://localhost:18789"

	maxFrameBytes = 64 << 20
)

type frameConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type Config struct {
	UpstreamURL string
	Origin      string
}

// Relay couples one downstream connection to a fresh upstream gateway
// connection. Payloads are forwarded untouched.
type Relay struct {
	cfg    Config
	dial   func(ctx context.Context) (frameConn, error)
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Relay {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Relay{cfg: cfg, logger: logger}
	r.dial = r.dialUpstream
	return r
}

func (r *Relay) dialUpstream(ctx context.Context) (frameConn, error) {
	conn, _, err := websocket.Dial(ctx, r.cfg.UpstreamURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{r.cfg.Origin}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial upstream %s: %w", domain.ErrConnection, r.cfg.UpstreamURL, err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// upstreamLeg holds downstream frames until the upstream connection is
// ready. The mutex is held while flushing so later frames cannot overtake
// queued ones.
type upstreamLeg struct {
	mu      sync.Mutex
	conn    frameConn
	queue   []frame
	closed  bool
	code    websocket.StatusCode
	reason  string
	dropped bool
}

func (l *upstreamLeg) forward(ctx context.Context, typ websocket.MessageType, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.dropped {
		return nil
	}
	if l.conn == nil {
		l.queue = append(l.queue, frame{typ: typ, data: data})
		return nil
	}
	return l.conn.Write(ctx, typ, data)
}

// attach flushes the queue into conn. It reports false when the downstream
// side already went away, in which case conn has been closed.
func (l *upstreamLeg) attach(ctx context.Context, conn frameConn) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		_ = conn.Close(l.code, l.reason)
		return false, nil
	}
	for _, f := range l.queue {
		if err := conn.Write(ctx, f.typ, f.data); err != nil {
			l.queue = nil
			return false, err
		}
	}
	l.queue = nil
	l.conn = conn
	return true, nil
}

// fail drops queued frames after the upstream could not be reached.
func (l *upstreamLeg) fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropped = true
	l.queue = nil
}

func (l *upstreamLeg) close(code websocket.StatusCode, reason string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.code = code
	l.reason = reason
	l.queue = nil
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		_ = conn.Close(code, reason)
	}
}

// Serve relays until either side closes; the other side is then closed
// with the same code when it may be sent on the wire.
func (r *Relay) Serve(ctx context.Context, downstream frameConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	leg := &upstreamLeg{}
	upstreamDone := make(chan struct{})
	go func() {
		defer close(upstreamDone)
		r.runUpstream(ctx, leg, downstream)
	}()

	var readErr error
	for {
		typ, data, err := downstream.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		if err := leg.forward(ctx, typ, data); err != nil {
			r.logger.Debug("relay upstream write failed", "error", err)
			code, reason := closeFrameFor(err)
			_ = downstream.Close(code, reason)
			readErr = err
			break
		}
	}

	code, reason := closeFrameFor(readErr)
	leg.close(code, reason)
	cancel()
	<-upstreamDone

	if isExpectedClose(readErr) {
		return nil
	}
	return readErr
}

func (r *Relay) runUpstream(ctx context.Context, leg *upstreamLeg, downstream frameConn) {
	conn, err := r.dial(ctx)
	if err != nil {
		leg.fail()
		if ctx.Err() == nil {
			r.logger.Warn("relay upstream unavailable", "url", r.cfg.UpstreamURL, "error", err)
			_ = downstream.Close(websocket.StatusInternalError, "upstream unavailable")
		}
		return
	}

	ok, err := leg.attach(ctx, conn)
	if err != nil {
		r.logger.Debug("relay flush failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "relay flush failed")
		_ = downstream.Close(websocket.StatusInternalError, "upstream write failed")
		return
	}
	if !ok {
		return
	}
	r.logger.Debug("relay upstream connected", "url", r.cfg.UpstreamURL)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				code, reason := closeFrameFor(err)
				_ = downstream.Close(code, reason)
			}
			return
		}
		if err := downstream.Write(ctx, typ, data); err != nil {
			code, reason := closeFrameFor(err)
			leg.close(code, reason)
			return
		}
	}
}

// closeFrameFor picks the close frame for the opposite side. Codes that
// must not appear on the wire become 1001; transport failures become 1011.
func closeFrameFor(err error) (websocket.StatusCode, string) {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.StatusNoStatusRcvd, websocket.StatusAbnormalClosure, websocket.StatusTLSHandshake:
			return websocket.StatusGoingAway, ""
		default:
			return closeErr.Code, closeErr.Reason
		}
	}
	if isPeerGone(err) {
		return websocket.StatusGoingAway, ""
	}
	return websocket.StatusInternalError, "relay transport error"
}

func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func isExpectedClose(err error) bool {
	return err == nil || websocket.CloseStatus(err) != -1 || isPeerGone(err)
}
