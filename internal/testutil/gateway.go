// Package testutil holds an in-process gateway used by adapter and command
// tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// HandlerFunc answers one gateway method. A non-empty errMsg produces an
// ok=false response.
type HandlerFunc func(params json.RawMessage) (payload any, errMsg string)

type request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	OK      bool           `json:"ok"`
	Payload any            `json:"payload,omitempty"`
	Error   map[string]any `json:"error,omitempty"`
}

// FakeGateway speaks the gateway frame protocol over a real websocket.
type FakeGateway struct {
	server *httptest.Server
	token  string

	mu         sync.Mutex
	handlers   map[string]HandlerFunc
	silent     map[string]bool
	handshakes []json.RawMessage
	origins    []string
	closes     []websocket.CloseError
	frames     [][]byte
	conns      []*websocket.Conn
	hold       chan struct{}
	challenge  bool
}

func NewFakeGateway(t *testing.T, token string) *FakeGateway {
	t.Helper()

	g := &FakeGateway{
		token:    token,
		handlers: map[string]HandlerFunc{},
		silent:   map[string]bool{},
	}
	g.server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.server.Close)
	return g
}

func (g *FakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

func (g *FakeGateway) Handle(method string, fn HandlerFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[method] = fn
}

// Reply registers a fixed successful payload for method.
func (g *FakeGateway) Reply(method string, payload any) {
	g.Handle(method, func(json.RawMessage) (any, string) { return payload, "" })
}

// Ignore makes the gateway swallow requests for method without answering.
func (g *FakeGateway) Ignore(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.silent[method] = true
}

// SendChallenge makes the gateway push an unsolicited event frame before
// anything else on each connection.
func (g *FakeGateway) SendChallenge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.challenge = true
}

// HoldAccept delays the websocket upgrade until the returned func is called.
func (g *FakeGateway) HoldAccept() (release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hold := make(chan struct{})
	g.hold = hold
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

func (g *FakeGateway) Handshakes() []json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]json.RawMessage(nil), g.handshakes...)
}

// Origins returns the Origin header of every accepted upgrade.
func (g *FakeGateway) Origins() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.origins...)
}

// Closes returns the close frames peers sent, in arrival order.
func (g *FakeGateway) Closes() []websocket.CloseError {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]websocket.CloseError(nil), g.closes...)
}

// Frames returns every frame received, in arrival order.
func (g *FakeGateway) Frames() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]byte(nil), g.frames...)
}

// CloseConnections closes every accepted connection with code and reason.
func (g *FakeGateway) CloseConnections(code websocket.StatusCode, reason string) {
	g.mu.Lock()
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close(code, reason)
	}
}

func (g *FakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	hold := g.hold
	challenge := g.challenge
	g.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	conn.SetReadLimit(64 << 20)
	g.mu.Lock()
	g.conns = append(g.conns, conn)
	g.origins = append(g.origins, r.Header.Get("Origin"))
	g.mu.Unlock()
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	if challenge {
		_ = g.write(ctx, conn, map[string]any{"type": "event", "event": "connect.challenge", "payload": map[string]any{"nonce": "n-1"}})
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				g.mu.Lock()
				g.closes = append(g.closes, closeErr)
				g.mu.Unlock()
			}
			return
		}
		g.mu.Lock()
		g.frames = append(g.frames, data)
		g.mu.Unlock()

		var req request
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			continue
		}
		resp, ok := g.answer(req)
		if !ok {
			continue
		}
		if err := g.write(ctx, conn, resp); err != nil {
			return
		}
	}
}

func (g *FakeGateway) answer(req request) (response, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.Method == "connect" {
		g.handshakes = append(g.handshakes, req.Params)
		var params struct {
			Auth struct {
				Token string `json:"token"`
			} `json:"auth"`
		}
		_ = json.Unmarshal(req.Params, &params)
		if params.Auth.Token != g.token {
			return response{Type: "res", ID: req.ID, Error: map[string]any{"message": "bad token"}}, true
		}
		return response{Type: "res", ID: req.ID, OK: true, Payload: map[string]any{"protocol": 3}}, true
	}

	if g.silent[req.Method] {
		return response{}, false
	}
	handler, ok := g.handlers[req.Method]
	if !ok {
		return response{Type: "res", ID: req.ID, Error: map[string]any{"message": "unknown method " + req.Method}}, true
	}
	payload, errMsg := handler(req.Params)
	if errMsg != "" {
		return response{Type: "res", ID: req.ID, Error: map[string]any{"message": errMsg}}, true
	}
	return response{Type: "res", ID: req.ID, OK: true, Payload: payload}, true
}

func (g *FakeGateway) write(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
