package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/certiva/docpipe/internal/models"
	"go.uber.org/zap"
)

// ResultCache persists successful extraction results as JSON files keyed by
// document identity, so re-runs never pay for a second provider call.
type ResultCache struct {
	dir     string
	enabled bool
	logger  *zap.Logger
}

// NewResultCache creates a result cache rooted at dir
func NewResultCache(dir string, enabled bool, logger *zap.Logger) *ResultCache {
	if enabled {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn("Failed to create cache directory, disabling cache",
				zap.String("dir", dir), zap.Error(err))
			enabled = false
		}
	}
	return &ResultCache{dir: dir, enabled: enabled, logger: logger}
}

// Enabled reports whether the cache is active
func (c *ResultCache) Enabled() bool {
	return c != nil && c.enabled
}

func (c *ResultCache) pathFor(docID models.DocumentID) string {
	return filepath.Join(c.dir, docID.String()+".json")
}

// Get returns a cached result for the document, if present
func (c *ResultCache) Get(docID models.DocumentID) (*Result, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := os.ReadFile(c.pathFor(docID))
	if err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("Discarding unreadable cache entry",
			zap.String("doc_id", docID.String()), zap.Error(err))
		return nil, false
	}
	return &result, true
}

// Put stores a result for future runs
func (c *ResultCache) Put(docID models.DocumentID, result *Result) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := os.WriteFile(c.pathFor(docID), data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}
