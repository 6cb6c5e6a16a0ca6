package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/clawstat/internal/adapters/credentials/chain"
	"github.com/bnema/clawstat/internal/adapters/credentials/openclaw"
	"github.com/bnema/clawstat/internal/adapters/gateway/ws"
	logfile "github.com/bnema/clawstat/internal/adapters/logs/file"
	"github.com/bnema/clawstat/internal/adapters/relay"
	statusadapter "github.com/bnema/clawstat/internal/adapters/render/status"
	sqliterepo "github.com/bnema/clawstat/internal/adapters/repo/sqlite"
	tomlrepo "github.com/bnema/clawstat/internal/adapters/repo/toml"
	snapshotfile "github.com/bnema/clawstat/internal/adapters/snapshot/file"
	"github.com/bnema/clawstat/internal/adapters/upload/gsutil"
	"github.com/bnema/clawstat/internal/application"
	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	keyConfigFile       = "config"
	keyLogLevel         = "log.level"
	keyGatewayURL       = "gateway.url"
	keyGatewayToken     = "gateway.token"
	keyGatewayOrigin    = "gateway.origin"
	keyCallTimeout      = "gateway.call_timeout"
	keyOpenClawConfig   = "openclaw.config"
	keyOutputPath       = "output.path"
	keyUploadBucket     = "upload.bucket"
	keyLogDir           = "logs.dir"
	keyHistoryDB        = "history.db"
	keyHistoryLimit     = "collect.history_limit"
	keyHistoryWorkers   = "collect.workers"
	keyDiscoveryMode    = "discovery.mode"
	keyTopAgents        = "discovery.top_agents"
	keyTopSessions      = "discovery.top_sessions"
	keyRelayPort        = "relay.port"
	keyRelayStaticDir   = "relay.static_dir"
	keyRelayIndexFile   = "relay.index_file"
	keyRelayOrigin      = "relay.upstream_origin"
	keyRelayAllowOrigin = "relay.allowed_origins"
	keyStaleAfter       = "status.stale_after"
)

// flagKeys maps command flags to config keys. Only flags of the executing
// command are bound so commands can share key names.
var flagKeys = map[string]string{
	"log-level":       keyLogLevel,
	"gateway":         keyGatewayURL,
	"token":           keyGatewayToken,
	"origin":          keyGatewayOrigin,
	"call-timeout":    keyCallTimeout,
	"openclaw-config": keyOpenClawConfig,
	"output":          keyOutputPath,
	"file":            keyOutputPath,
	"upload":          keyUploadBucket,
	"log-dir":         keyLogDir,
	"rules":           tomlrepo.RulesPathKey,
	"history-db":      keyHistoryDB,
	"history-limit":   keyHistoryLimit,
	"workers":         keyHistoryWorkers,
	"discovery":       keyDiscoveryMode,
	"top-agents":      keyTopAgents,
	"top-sessions":    keyTopSessions,
	"port":            keyRelayPort,
	"static-dir":      keyRelayStaticDir,
	"index":           keyRelayIndexFile,
	"upstream-origin": keyRelayOrigin,
	"allow-origin":    keyRelayAllowOrigin,
	"stale-after":     keyStaleAfter,
}

var envKeys = map[string]string{
	keyGatewayToken: "OPENCLAW_GW_TOKEN",
	keyGatewayURL:   "OPENCLAW_GW_WS",
	keyUploadBucket: "GCS_BUCKET",
	keyRelayPort:    "AMY_DASHBOARD_PORT",
}

type app struct {
	cfg            *viper.Viper
	logger         *slog.Logger
	statusRenderer func(domain.Snapshot, statusadapter.RenderOptions) (string, error)
	clock          ports.Clock
	now            func() time.Time
}

func newApp() *app {
	a := &app{
		cfg:            viper.New(),
		logger:         slog.Default(),
		statusRenderer: statusadapter.Render,
		clock:          ports.SystemClock{},
	}
	a.now = a.clock.Now
	setDefaults(a.cfg)
	return a
}

func setDefaults(cfg *viper.Viper) {
	cfg.SetDefault(keyLogLevel, "info")
	cfg.SetDefault(keyGatewayURL, ws.DefaultGatewayURL)
	cfg.SetDefault(keyGatewayOrigin, ws.DefaultOrigin)
	cfg.SetDefault(keyCallTimeout, ws.DefaultCallTimeout)
	cfg.SetDefault(keyOutputPath, snapshotfile.DefaultPath)
	cfg.SetDefault(keyLogDir, logfile.DefaultDir)
	cfg.SetDefault(keyHistoryLimit, application.DefaultHistoryLimit)
	cfg.SetDefault(keyHistoryWorkers, application.DefaultHistoryWorkers)
	policy := domain.DefaultDiscoveryPolicy()
	cfg.SetDefault(keyDiscoveryMode, string(policy.Mode))
	cfg.SetDefault(keyTopAgents, policy.TopAgents)
	cfg.SetDefault(keyTopSessions, policy.TopSessions)
	cfg.SetDefault(keyRelayPort, relay.DefaultPort)
	cfg.SetDefault(keyRelayStaticDir, ".")
	cfg.SetDefault(keyRelayIndexFile, relay.DefaultIndexFile)
	cfg.SetDefault(keyRelayOrigin, relay.DefaultOrigin)
	cfg.SetDefault(keyStaleAfter, 10*time.Minute)
}

// load resolves flag > environment > config file for the running command
// and installs the logger.
func (a *app) load(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		key, ok := flagKeys[flag.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = a.cfg.BindPFlag(key, flag)
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}
	for key, env := range envKeys {
		if err := a.cfg.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := a.readConfigFile(cmd); err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), a.cfg.GetString(keyLogLevel))
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func (a *app) readConfigFile(cmd *cobra.Command) error {
	explicit, _ := cmd.Flags().GetString(keyConfigFile)
	if explicit != "" {
		a.cfg.SetConfigFile(explicit)
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		a.cfg.SetConfigName("config")
		a.cfg.SetConfigType("toml")
		a.cfg.AddConfigPath(filepath.Join(homeDir, ".config", "clawstat"))
	}

	if err := a.cfg.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if explicit == "" && errors.As(err, &configNotFound) {
			return nil
		}
		return fmt.Errorf("%w: read config file: %w", domain.ErrConfiguration, err)
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("%w: invalid log level %q", domain.ErrConfiguration, level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func (a *app) tokenSource() (ports.TokenSource, error) {
	path := a.cfg.GetString(keyOpenClawConfig)
	if path == "" {
		defaultPath, err := openclaw.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return chain.NewSource(chain.Static(strings.TrimSpace(a.cfg.GetString(keyGatewayToken))), openclaw.NewSource(path))
}

func (a *app) discoveryPolicy() (domain.DiscoveryPolicy, error) {
	policy := domain.DiscoveryPolicy{
		Mode:        domain.DiscoveryMode(strings.ToLower(a.cfg.GetString(keyDiscoveryMode))),
		TopAgents:   a.cfg.GetInt(keyTopAgents),
		TopSessions: a.cfg.GetInt(keyTopSessions),
	}
	if err := policy.Validate(); err != nil {
		return domain.DiscoveryPolicy{}, err
	}
	return policy, nil
}

func (a *app) snapshotStore() (*snapshotfile.Store, error) {
	return snapshotfile.NewStore(a.cfg.GetString(keyOutputPath))
}

func (a *app) providerRules(ctx context.Context) ([]domain.ProviderRule, error) {
	repo, err := tomlrepo.NewRuleRepository(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("wire rules repository: %w", err)
	}
	return repo.List(ctx)
}

// openHistory returns nil when no history database is configured.
func (a *app) openHistory(ctx context.Context) (*sqliterepo.RunHistory, error) {
	path := a.cfg.GetString(keyHistoryDB)
	if path == "" {
		return nil, nil
	}
	history, err := sqliterepo.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return history, nil
}

type collectRuntime struct {
	publisher *application.Publisher
	store     *snapshotfile.Store
	bucket    string
	close     func()
}

// wirePublisher builds the collect pipeline. A missing token fails here,
// before any connection is attempted.
func (a *app) wirePublisher(ctx context.Context) (*collectRuntime, error) {
	tokens, err := a.tokenSource()
	if err != nil {
		return nil, err
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	policy, err := a.discoveryPolicy()
	if err != nil {
		return nil, err
	}
	rules, err := a.providerRules(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.snapshotStore()
	if err != nil {
		return nil, err
	}

	dialer := ws.NewDialer(ws.Config{
		URL:         a.cfg.GetString(keyGatewayURL),
		Origin:      a.cfg.GetString(keyGatewayOrigin),
		Token:       token,
		CallTimeout: a.cfg.GetDuration(keyCallTimeout),
	}, a.logger)
	scanner := application.NewRateLimitScanner(logfile.NewSource(a.cfg.GetString(keyLogDir)), rules, a.logger)
	collector := application.NewCollector(dialer, scanner, store, a.clock, application.CollectorConfig{
		Discovery:      policy,
		HistoryLimit:   a.cfg.GetInt(keyHistoryLimit),
		HistoryWorkers: a.cfg.GetInt(keyHistoryWorkers),
	}, a.logger)

	rt := &collectRuntime{store: store, close: func() {}}

	var uploader ports.Uploader
	if bucket := strings.TrimSpace(a.cfg.GetString(keyUploadBucket)); bucket != "" {
		uploader = gsutil.NewUploader(bucket)
		rt.bucket = bucket
	}

	var runs ports.RunHistory
	history, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	if history != nil {
		runs = history
		rt.close = func() {
			if err := history.Close(); err != nil {
				a.logger.Debug("close run history", "error", err)
			}
		}
	}

	rt.publisher = application.NewPublisher(collector, store, uploader, runs, a.clock, a.logger)
	return rt, nil
}

func (a *app) wireRelayServer() (*relay.Server, string) {
	r := relay.New(relay.Config{
		UpstreamURL: a.cfg.GetString(keyGatewayURL),
		Origin:      a.cfg.GetString(keyRelayOrigin),
	}, a.logger)
	server := relay.NewServer(relay.ServerConfig{
		StaticDir:      a.cfg.GetString(keyRelayStaticDir),
		IndexFile:      a.cfg.GetString(keyRelayIndexFile),
		AllowedOrigins: a.cfg.GetStringSlice(keyRelayAllowOrigin),
	}, r, a.logger)
	return server, fmt.Sprintf(":%d", a.cfg.GetInt(keyRelayPort))
}
