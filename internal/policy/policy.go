// Package policy loads per-tenant posting policies from YAML files.
// A tenant without a policy file runs on the defaults.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TenantPolicy controls routing and account assignment for one tenant
type TenantPolicy struct {
	Tenant          string   `yaml:"-"`
	AutopostEnabled bool     `yaml:"autopost_enabled"`
	SafeCategories  []string `yaml:"autopost_categories_safe"`
	CanarySamplePct float64  `yaml:"canary_sample_pct"`
	MinEntryConf    float64  `yaml:"min_entry_conf"`

	SupplierAccount string `yaml:"supplier_account"`
	CustomerAccount string `yaml:"customer_account"`
	PurchaseJournal string `yaml:"purchase_journal"`
	SalesJournal    string `yaml:"sales_journal"`
}

// IsSafeCategory reports whether autopost is allowed for the category.
// An empty allowlist permits every category.
func (p *TenantPolicy) IsSafeCategory(category string) bool {
	if len(p.SafeCategories) == 0 {
		return true
	}
	category = strings.ToLower(strings.TrimSpace(category))
	for _, safe := range p.SafeCategories {
		if strings.ToLower(strings.TrimSpace(safe)) == category {
			return true
		}
	}
	return false
}

// Store loads and caches tenant policies from a directory of
// <tenant>.yaml files.
type Store struct {
	dir           string
	defaultTenant string
	minEntryConf  float64
	logger        *zap.Logger

	mu    sync.RWMutex
	cache map[string]*TenantPolicy
}

func NewStore(dir, defaultTenant string, minEntryConf float64, logger *zap.Logger) *Store {
	return &Store{
		dir:           dir,
		defaultTenant: defaultTenant,
		minEntryConf:  minEntryConf,
		logger:        logger,
		cache:         make(map[string]*TenantPolicy),
	}
}

// defaults returns the baseline policy applied before any file overrides
func (s *Store) defaults(tenant string) *TenantPolicy {
	return &TenantPolicy{
		Tenant:          tenant,
		AutopostEnabled: true,
		MinEntryConf:    s.minEntryConf,
		SupplierAccount: "410000",
		CustomerAccount: "430000",
		PurchaseJournal: "COMPRAS",
		SalesJournal:    "VENTAS",
	}
}

// Get returns the policy for a tenant, falling back to defaults when no
// policy file exists. Results are cached until Reload.
func (s *Store) Get(tenant string) *TenantPolicy {
	key := strings.ToLower(strings.TrimSpace(tenant))
	if key == "" {
		key = strings.ToLower(s.defaultTenant)
	}

	s.mu.RLock()
	if p, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return p
	}
	s.mu.RUnlock()

	p, err := s.load(key)
	if err != nil {
		s.logger.Warn("Failed to load tenant policy, using defaults",
			zap.String("tenant", key), zap.Error(err))
		p = s.defaults(key)
	}

	s.mu.Lock()
	s.cache[key] = p
	s.mu.Unlock()
	return p
}

// Reload drops the cache so the next Get re-reads policy files
func (s *Store) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]*TenantPolicy)
	s.mu.Unlock()
}

func (s *Store) load(tenant string) (*TenantPolicy, error) {
	p := s.defaults(tenant)

	path := filepath.Join(s.dir, tenant+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if p.CanarySamplePct < 0 {
		p.CanarySamplePct = 0
	}
	if p.CanarySamplePct > 1 {
		p.CanarySamplePct = 1
	}
	if p.MinEntryConf <= 0 {
		p.MinEntryConf = s.minEntryConf
	}
	p.Tenant = tenant

	s.logger.Debug("Loaded tenant policy",
		zap.String("tenant", tenant),
		zap.Bool("autopost_enabled", p.AutopostEnabled),
		zap.Float64("canary_pct", p.CanarySamplePct))
	return p, nil
}
