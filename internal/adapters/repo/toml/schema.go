package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version   int              `toml:"version"`
	Providers []providerSchema `toml:"providers"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported rules schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type providerSchema struct {
	Name         string   `toml:"name"`
	Patterns     []string `toml:"patterns"`
	ResetWindow  string   `toml:"reset_window"`
	CatchGeneric bool     `toml:"catch_generic,omitempty"`
}
