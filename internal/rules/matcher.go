package rules

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/certiva/docpipe/internal/models"
)

// Mapping sources, in decreasing confidence order
const (
	SourceRuleNIF  = "rule_nif"
	SourceRuleName = "rule_name"
	SourceCategory = "category"
	SourceSuspense = "suspense"
)

var spaceRun = regexp.MustCompile(`\s+`)

func normalizeName(name string) string {
	return spaceRun.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), " ")
}

// nameRatio is a similarity score in [0, 1] based on edit distance
func nameRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la := len([]rune(a))
	lb := len([]rune(b))
	max := la
	if lb > max {
		max = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(max)
}

// matchRule finds the vendor rule for an invoice. An exact tax-id match wins
// outright; otherwise the closest name at or above minRatio is taken.
func matchRule(ruleset []models.VendorRule, supplierNIF, supplierName string, minRatio float64) (*models.VendorRule, string) {
	nif := strings.ToUpper(strings.TrimSpace(supplierNIF))
	name := normalizeName(supplierName)

	var best *models.VendorRule
	bestRatio := 0.0

	for i := range ruleset {
		rule := &ruleset[i]
		if nif != "" && rule.SupplierNIF != "" && strings.ToUpper(rule.SupplierNIF) == nif {
			return rule, SourceRuleNIF
		}
		ruleName := normalizeName(rule.SupplierName)
		if name == "" || ruleName == "" {
			continue
		}
		if ratio := nameRatio(name, ruleName); ratio > bestRatio {
			bestRatio = ratio
			best = rule
		}
	}

	if best != nil && bestRatio >= minRatio {
		return best, SourceRuleName
	}
	return nil, ""
}
