package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/pkg/database"
)

// RuleRepository stores the vendor-to-account mapping rules
type RuleRepository struct {
	db     *database.DB
	logger *zap.Logger
}

func NewRuleRepository(db *database.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// Create adds a vendor rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.VendorRule) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO vendor_rules (tenant, supplier_nif, supplier_name, account, vat_rate)
		VALUES (?, ?, ?, ?, ?)`,
		rule.Tenant, rule.SupplierNIF, rule.SupplierName, rule.Account, rule.VATRate.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to create vendor rule: %w", err)
	}
	rule.ID, _ = res.LastInsertId()
	return nil
}

// ListByTenant returns all rules for a tenant
func (r *RuleRepository) ListByTenant(ctx context.Context, tenant string) ([]models.VendorRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant, supplier_nif, supplier_name, account, vat_rate
		FROM vendor_rules WHERE tenant = ? ORDER BY id`, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendor rules: %w", err)
	}
	defer rows.Close()

	var rules []models.VendorRule
	for rows.Next() {
		var rule models.VendorRule
		var rate string
		if err := rows.Scan(&rule.ID, &rule.Tenant, &rule.SupplierNIF,
			&rule.SupplierName, &rule.Account, &rate); err != nil {
			return nil, fmt.Errorf("failed to scan vendor rule: %w", err)
		}
		if rule.VATRate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("failed to parse rule vat rate: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Delete removes a vendor rule by id
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM vendor_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete vendor rule: %w", err)
	}
	return requireRowAffected(res)
}
