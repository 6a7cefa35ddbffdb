package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePolicy(t *testing.T, dir, tenant, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tenant+".yaml"), []byte(content), 0644))
}

func TestGetReturnsDefaultsWhenNoFile(t *testing.T) {
	s := NewStore(t.TempDir(), "acme", 0.85, zap.NewNop())

	p := s.Get("acme")
	assert.True(t, p.AutopostEnabled)
	assert.Equal(t, 0.85, p.MinEntryConf)
	assert.Equal(t, "410000", p.SupplierAccount)
	assert.Equal(t, "COMPRAS", p.PurchaseJournal)
	assert.True(t, p.IsSafeCategory("anything"))
}

func TestGetLoadsYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "acme", `
autopost_enabled: false
autopost_categories_safe: [suministros, software]
canary_sample_pct: 0.1
supplier_account: "400000"
`)
	s := NewStore(dir, "acme", 0.85, zap.NewNop())

	p := s.Get("acme")
	assert.False(t, p.AutopostEnabled)
	assert.Equal(t, 0.1, p.CanarySamplePct)
	assert.Equal(t, "400000", p.SupplierAccount)
	assert.True(t, p.IsSafeCategory("Suministros"))
	assert.False(t, p.IsSafeCategory("viajes"))
	// Unset fields keep their defaults
	assert.Equal(t, "430000", p.CustomerAccount)
	assert.Equal(t, 0.85, p.MinEntryConf)
}

func TestGetClampsCanaryPct(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "acme", "canary_sample_pct: 7.5\n")
	s := NewStore(dir, "acme", 0.85, zap.NewNop())

	assert.Equal(t, 1.0, s.Get("acme").CanarySamplePct)
}

func TestGetEmptyTenantUsesDefaultTenant(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "fallback", "autopost_enabled: false\n")
	s := NewStore(dir, "fallback", 0.85, zap.NewNop())

	assert.False(t, s.Get("").AutopostEnabled)
}

func TestReloadDropsCache(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "acme", 0.85, zap.NewNop())

	assert.True(t, s.Get("acme").AutopostEnabled)

	writePolicy(t, dir, "acme", "autopost_enabled: false\n")
	assert.True(t, s.Get("acme").AutopostEnabled, "cached policy still served")

	s.Reload()
	assert.False(t, s.Get("acme").AutopostEnabled)
}
