package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
	"github.com/coder/websocket"
)

const (
	DefaultGatewayURL = "ws://localhost:18789"
	DefaultOrigin     = "http://localhost:8080"

	protocolVersion = 3
	handshakeMethod = "connect"

	// Session histories can be large; the websocket default of 32KiB is not
	// enough for a 150 message chat.history payload.
	MaxFrameBytes = 64 << 20
)

type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

func DefaultClientInfo() ClientInfo {
	return ClientInfo{
		ID:       "openclaw-control-ui",
		Version:  "collect",
		Platform: "web",
		Mode:     "webchat",
	}
}

type Config struct {
	URL         string
	Origin      string
	Token       string
	Client      ClientInfo
	Role        string
	Scopes      []string
	CallTimeout time.Duration
}

type handshakeParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      ClientInfo    `json:"client"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes"`
	Auth        handshakeAuth `json:"auth"`
}

type handshakeAuth struct {
	Token string `json:"token"`
}

type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

var _ ports.GatewayDialer = (*Dialer)(nil)

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultGatewayURL
	}
	if cfg.Client == (ClientInfo{}) {
		cfg.Client = DefaultClientInfo()
	}
	if cfg.Role == "" {
		cfg.Role = "operator"
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"operator.admin", "operator.read"}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial connects and performs the operator handshake. Any failure before the
// handshake succeeds is reported as domain.ErrConnection.
func (d *Dialer) Dial(ctx context.Context) (ports.GatewaySession, error) {
	header := http.Header{}
	if d.cfg.Origin != "" {
		header.Set("Origin", d.cfg.Origin)
	}

	conn, _, err := websocket.Dial(ctx, d.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", domain.ErrConnection, d.cfg.URL, err)
	}
	conn.SetReadLimit(MaxFrameBytes)

	session := newSession(conn, NewChannel(conn,
		WithCallTimeout(d.cfg.CallTimeout),
		WithLogger(d.logger),
	))

	resp, err := session.channel.Do(ctx, handshakeMethod, handshakeParams{
		MinProtocol: protocolVersion,
		MaxProtocol: protocolVersion,
		Client:      d.cfg.Client,
		Role:        d.cfg.Role,
		Scopes:      d.cfg.Scopes,
		Auth:        handshakeAuth{Token: d.cfg.Token},
	})
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("%w: handshake: %w", domain.ErrConnection, err)
	}
	if !resp.OK {
		_ = session.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrConnection, resp.ErrorMessage("connect failed"))
	}

	d.logger.Debug("gateway handshake complete", "url", d.cfg.URL)
	return session, nil
}

// Session owns the connection and its read loop for one collection run.
type Session struct {
	conn      *websocket.Conn
	channel   *Channel
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ ports.GatewaySession = (*Session)(nil)

func newSession(conn *websocket.Conn, channel *Channel) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{conn: conn, channel: channel, cancel: cancel}
	go func() {
		_ = channel.Run(ctx)
	}()
	return s
}

func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return s.channel.Call(ctx, method, params)
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		s.cancel()
		<-s.channel.Done()
	})
	return err
}
