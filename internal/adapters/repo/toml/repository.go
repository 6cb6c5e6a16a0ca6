package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bnema/clawstat/internal/domain"
	"github.com/bnema/clawstat/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	RulesPathKey = "rules.path"

	rulesFileMode   = 0o600
	rulesDirMode    = 0o700
	rulesConfigDir  = ".config/clawstat"
	rulesConfigFile = "rules.toml"
	tempFilePattern = ".rules-*.toml.tmp"
)

// RuleRepository stores provider cooldown rules in a TOML file. Without a
// file the built-in rules apply.
type RuleRepository struct {
	rulesPath string
	mu        sync.RWMutex
}

var _ ports.ProviderRuleRepository = (*RuleRepository)(nil)

func NewRuleRepository(cfg *viper.Viper) (*RuleRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	cfg.SetDefault(RulesPathKey, filepath.Join(homeDir, rulesConfigDir, rulesConfigFile))

	rulesPath := cfg.GetString(RulesPathKey)
	if rulesPath == "" {
		return nil, errors.New("rules path is empty")
	}
	rulesPath, err = normalizeRulesPath(rulesPath)
	if err != nil {
		return nil, err
	}

	return &RuleRepository{rulesPath: rulesPath}, nil
}

func (r *RuleRepository) Path() string {
	return r.rulesPath
}

func (r *RuleRepository) List(ctx context.Context) ([]domain.ProviderRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, found, err := r.readSchema()
	if err != nil {
		return nil, err
	}
	if !found || len(file.Providers) == 0 {
		return domain.DefaultProviderRules(), nil
	}

	rules := make([]domain.ProviderRule, 0, len(file.Providers))
	for i, entry := range file.Providers {
		rule, err := fromSchema(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: rules file %s provider #%d: %w", domain.ErrConfiguration, r.rulesPath, i+1, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

func (r *RuleRepository) Save(ctx context.Context, rules []domain.ProviderRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	file := fileSchema{Providers: make([]providerSchema, 0, len(rules))}
	for _, rule := range rules {
		file.Providers = append(file.Providers, toSchema(rule))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writeSchema(file)
}

func (r *RuleRepository) readSchema() (fileSchema, bool, error) {
	data, err := os.ReadFile(r.rulesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, false, nil
		}
		return fileSchema{}, false, fmt.Errorf("read rules file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, false, fmt.Errorf("%w: decode rules file: %w", domain.ErrConfiguration, err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, false, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	file.applyDefaults()

	return file, true, nil
}

func normalizeRulesPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve rules path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func (r *RuleRepository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.rulesPath), rulesDirMode); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode rules file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.rulesPath), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp rules file: %w", err)
	}

	if err := tempFile.Chmod(rulesFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp rules file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp rules file: %w", err)
	}

	if err := os.Rename(tempName, r.rulesPath); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(rule domain.ProviderRule) providerSchema {
	return providerSchema{
		Name:         rule.Provider,
		Patterns:     append([]string(nil), rule.Patterns...),
		ResetWindow:  rule.ResetWindow.String(),
		CatchGeneric: rule.CatchGeneric,
	}
}

func fromSchema(entry providerSchema) (domain.ProviderRule, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return domain.ProviderRule{}, errors.New("name is empty")
	}
	if len(entry.Patterns) == 0 {
		return domain.ProviderRule{}, fmt.Errorf("provider %q has no patterns", name)
	}

	window, err := time.ParseDuration(strings.TrimSpace(entry.ResetWindow))
	if err != nil {
		return domain.ProviderRule{}, fmt.Errorf("provider %q reset_window: %w", name, err)
	}
	if window <= 0 {
		return domain.ProviderRule{}, fmt.Errorf("provider %q reset_window must be positive", name)
	}

	return domain.ProviderRule{
		Provider:     name,
		Patterns:     append([]string(nil), entry.Patterns...),
		ResetWindow:  window,
		CatchGeneric: entry.CatchGeneric,
	}, nil
}
