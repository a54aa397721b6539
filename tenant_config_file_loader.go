package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileTenantConfigStore reads tenant configuration documents from a
// directory, one file per tenant named with the tenant ID (e.g.
// "tenant123.yaml"). YAML, YML, and TOML extensions are supported.
type FileTenantConfigStore struct {
	dir    string
	logger Logger
}

// NewFileTenantConfigStore creates a store over the given directory.
func NewFileTenantConfigStore(dir string, logger Logger) (*FileTenantConfigStore, error) {
	if logger == nil {
		logger = NoopLogger{}
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("tenant config directory: %w", err)
	}
	return &FileTenantConfigStore{dir: dir, logger: logger}, nil
}

// Dir returns the directory the store reads from.
func (s *FileTenantConfigStore) Dir() string { return s.dir }

// GetTenantConfig implements TenantConfigStore. It looks for
// <dir>/<tenantID>.{yaml,yml,toml}, first match wins.
func (s *FileTenantConfigStore) GetTenantConfig(_ context.Context, tenantID TenantID) (*TenantConfig, error) {
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		path := filepath.Join(s.dir, string(tenantID)+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return s.loadFile(path, tenantID)
	}
	return nil, fmt.Errorf("%w: tenant %q in %s", ErrTenantConfigNotFound, tenantID, s.dir)
}

// Tenants lists the tenant IDs that have a config file in the directory.
func (s *FileTenantConfigStore) Tenants() ([]TenantID, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading tenant config directory: %w", err)
	}

	var tenants []TenantID
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if tenantID, ok := tenantIDFromFile(file.Name()); ok {
			tenants = append(tenants, tenantID)
		}
	}
	return tenants, nil
}

func (s *FileTenantConfigStore) loadFile(path string, tenantID TenantID) (*TenantConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenant config file: %w", err)
	}

	var cfg TenantConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTenantConfigInvalid, path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTenantConfigInvalid, path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigExt, path)
	}

	// The filename is authoritative for tenant identity.
	cfg.TenantID = tenantID
	if cfg.Services == nil {
		cfg.Services = map[string]string{}
	}
	if cfg.Modules == nil {
		cfg.Modules = map[string]map[string]any{}
	}

	s.logger.Debug("Loaded tenant config file", "tenant", tenantID, "file", path)
	return &cfg, nil
}

// tenantIDFromFile extracts a tenant ID from a recognized config filename.
func tenantIDFromFile(name string) (TenantID, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".yaml", ".yml", ".toml":
		return TenantID(strings.TrimSuffix(name, filepath.Ext(name))), true
	default:
		return "", false
	}
}
