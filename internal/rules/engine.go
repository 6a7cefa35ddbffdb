// Package rules builds candidate accounting entries from normalized
// invoices. Evaluation is pure: given the same invoice, ruleset, committed
// duplicates, policy, and reference time, the result is identical.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/fiscal"
	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/normalize"
	"github.com/certiva/docpipe/internal/policy"
)

// Config holds validation tolerances and match thresholds
type Config struct {
	AmountTolerance          decimal.Decimal
	DuplicateAmountTolerance decimal.Decimal
	DuplicateWindowDays      int
	FutureDateDays           int
	FuzzyNameRatio           float64
}

// DefaultConfig returns the standard tolerances
func DefaultConfig() Config {
	return Config{
		AmountTolerance:          decimal.RequireFromString("0.02"),
		DuplicateAmountTolerance: decimal.RequireFromString("0.01"),
		DuplicateWindowDays:      180,
		FutureDateDays:           3,
		FuzzyNameRatio:           0.82,
	}
}

// Evaluation is the outcome of running the engine over one invoice
type Evaluation struct {
	Entry     models.CandidateEntry
	EntryConf float64
	Issues    []string
	Duplicate bool
}

// Mapping-source base confidences
// expenseTicketScaleCap is the largest gross plausible for an expense
// ticket; anything above it suggests a misread amount scale
var expenseTicketScaleCap = decimal.NewFromInt(500)

var sourceConfidence = map[string]float64{
	SourceRuleNIF:  0.95,
	SourceRuleName: 0.90,
	SourceCategory: 0.85,
	SourceSuspense: 0.60,
}

// Issues that force review on their own merit but do not degrade the
// entry's arithmetic quality, so they carry no confidence penalty.
var nonPenaltyIssues = map[string]bool{
	models.IssueNoRule:           true,
	models.IssueDupNIFNumber:     true,
	models.IssueDupNIFGross:      true,
	models.IssueDuplicateSuspect: true,
}

type Engine struct {
	cfg    Config
	logger *zap.Logger
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	defaults := DefaultConfig()
	if cfg.AmountTolerance.IsZero() {
		cfg.AmountTolerance = defaults.AmountTolerance
	}
	if cfg.DuplicateAmountTolerance.IsZero() {
		cfg.DuplicateAmountTolerance = defaults.DuplicateAmountTolerance
	}
	if cfg.DuplicateWindowDays <= 0 {
		cfg.DuplicateWindowDays = defaults.DuplicateWindowDays
	}
	if cfg.FuzzyNameRatio <= 0 {
		cfg.FuzzyNameRatio = defaults.FuzzyNameRatio
	}
	if cfg.FutureDateDays <= 0 {
		cfg.FutureDateDays = defaults.FutureDateDays
	}
	return &Engine{cfg: cfg, logger: logger}
}

// DuplicateCutoff returns the earliest invoice date still inside the
// duplicate window relative to now.
func (e *Engine) DuplicateCutoff(now time.Time) string {
	days := e.cfg.DuplicateWindowDays
	if days <= 0 {
		days = 180
	}
	return now.AddDate(0, 0, -days).Format("2006-01-02")
}

// Evaluate builds the candidate entry for an invoice. duplicates are the
// committed dedupe rows for the same (tenant, supplier tax id) inside the
// duplicate window, excluding the document itself.
func (e *Engine) Evaluate(
	docID models.DocumentID,
	inv *normalize.Invoice,
	tenant string,
	ruleset []models.VendorRule,
	duplicates []models.DedupeRecord,
	pol *policy.TenantPolicy,
	now time.Time,
) *Evaluation {
	issues := append([]string(nil), inv.Issues...)
	category := strings.ToLower(strings.TrimSpace(inv.Category))
	isSales := strings.HasPrefix(category, "ventas_")
	flow := "AP"
	if isSales {
		flow = "AR"
	}

	net := inv.Net
	tax := inv.Tax
	gross := inv.Gross

	// Arithmetic checks against the extracted totals
	if net.Add(tax).Sub(gross).Abs().GreaterThan(e.cfg.AmountTolerance) {
		issues = models.AppendIssue(issues, models.IssueAmountMismatch)
	}
	if len(inv.Lines) > 0 {
		lineTotal := decimal.Zero
		for _, line := range inv.Lines {
			lineTotal = lineTotal.Add(line.Amount.Abs())
		}
		if lineTotal.Sub(net.Abs()).Abs().GreaterThan(e.cfg.AmountTolerance) {
			issues = models.AppendIssue(issues, models.IssueAmountMismatch)
		}
	}
	if linesIncomplete(inv) {
		issues = models.AppendIssue(issues, models.IssueLinesIncomplete)
	}

	// Dates: an unusable date is substituted with today and flagged
	entryDate := inv.InvoiceDate
	if entryDate == "" {
		entryDate = now.Format("2006-01-02")
		issues = models.AppendIssue(issues, models.IssueInvalidDate)
	} else if parsed, err := time.Parse("2006-01-02", entryDate); err == nil {
		if parsed.After(now.AddDate(0, 0, e.cfg.FutureDateDays)) {
			issues = models.AppendIssue(issues, models.IssueFutureDate)
		}
	}

	if inv.Currency != "EUR" {
		issues = models.AppendIssue(issues, models.IssueNonEURCurrency)
	}

	nifPenalty := 0.0
	switch inv.NIFStatus {
	case fiscal.StatusInvalid:
		issues = models.AppendIssue(issues, models.IssueNIFSuspect)
	case fiscal.StatusMaybe:
		nifPenalty = 0.03
	}

	duplicate := false
	for _, dup := range duplicates {
		if dup.DocID == docID {
			continue
		}
		if inv.InvoiceNumber != "" && dup.InvoiceNumber == inv.InvoiceNumber {
			duplicate = true
			issues = models.AppendIssue(issues, models.IssueDupNIFNumber)
			break
		}
	}
	if !duplicate {
		for _, dup := range duplicates {
			if dup.DocID == docID {
				continue
			}
			if dup.Gross.Sub(gross).Abs().LessThanOrEqual(e.cfg.DuplicateAmountTolerance) {
				duplicate = true
				issues = models.AppendIssue(issues, models.IssueDupNIFGross)
				break
			}
		}
	}
	if duplicate {
		issues = models.AppendIssue(issues, models.IssueDuplicateSuspect)
	}

	creditNote := inv.DocType == "credit_note" || category == "abono" || category == "ventas_abono" || gross.IsNegative()
	if creditNote {
		issues = models.AppendIssue(issues, models.IssueCreditNote)
		net = net.Abs()
		tax = tax.Abs()
		gross = gross.Abs()
	}

	// A ticket-sized expense should never carry an invoice-sized amount
	if inv.DocType == "expense_ticket" && gross.GreaterThan(expenseTicketScaleCap) {
		issues = models.AppendIssue(issues, models.IssueAmountScaleSuspect)
	}

	intracom := strings.HasPrefix(inv.SupplierNIF, "EU") ||
		category == "intracomunitaria" || category == "ventas_intracom"
	if intracom && tax.IsZero() {
		issues = models.AppendIssue(issues, models.IssueIntracomZeroVAT)
	}

	account, ivaRate, mappingSource := e.resolveAccount(inv, tenant, ruleset, category, isSales)
	if mappingSource == SourceSuspense {
		issues = models.AppendIssue(issues, models.IssueNoRule)
	}

	confidence := sourceConfidence[mappingSource]
	penalties := 0
	for _, code := range issues {
		if !nonPenaltyIssues[code] {
			penalties++
		}
	}
	confidence -= 0.05 * float64(penalties)
	confidence -= nifPenalty
	if confidence < 0.10 {
		confidence = 0.10
	}
	if confidence > 0.99 {
		confidence = 0.99
	}

	entry := e.buildEntry(docID, inv, tenant, pol, entryDate, account, ivaRate,
		mappingSource, flow, creditNote, net, tax, gross)

	e.logger.Debug("Evaluated invoice",
		zap.String("doc_id", docID.String()),
		zap.String("mapping_source", mappingSource),
		zap.Float64("entry_conf", confidence),
		zap.Strings("issues", issues))

	return &Evaluation{
		Entry:     entry,
		EntryConf: confidence,
		Issues:    issues,
		Duplicate: duplicate,
	}
}

// resolveAccount walks the matcher chain: exact tax id, fuzzy name,
// category map, suspense.
func (e *Engine) resolveAccount(inv *normalize.Invoice, tenant string, ruleset []models.VendorRule, category string, isSales bool) (string, decimal.Decimal, string) {
	defaultRate := decimal.NewFromInt(21)

	if rule, source := matchRule(ruleset, inv.SupplierNIF, inv.SupplierName, e.cfg.FuzzyNameRatio); rule != nil {
		rate := rule.VATRate
		if rate.IsZero() {
			rate = defaultRate
		}
		return rule.Account, rate, source
	}

	categoryMap := purchaseCategoryAccounts
	suspense := purchaseSuspenseAccount
	if isSales {
		categoryMap = salesCategoryAccounts
		suspense = salesSuspenseAccount
	}
	if account, ok := categoryMap[category]; ok {
		return account, defaultRate, SourceCategory
	}
	return suspense, defaultRate, SourceSuspense
}

// buildEntry produces the balanced candidate entry, grouping lines per VAT
// rate and closing with the counterparty gross line.
func (e *Engine) buildEntry(
	docID models.DocumentID,
	inv *normalize.Invoice,
	tenant string,
	pol *policy.TenantPolicy,
	entryDate, account string,
	ivaRate decimal.Decimal,
	mappingSource, flow string,
	creditNote bool,
	net, tax, gross decimal.Decimal,
) models.CandidateEntry {
	isSales := flow == "AR"
	category := strings.ToLower(strings.TrimSpace(inv.Category))

	// The P&L account must live on the right side of the chart
	plAccount := account
	if isSales && !strings.HasPrefix(plAccount, "7") {
		if mapped, ok := salesCategoryAccounts[category]; ok {
			plAccount = mapped
		} else {
			plAccount = salesDefaultAccount
		}
	}
	if !isSales && !strings.HasPrefix(plAccount, "6") {
		if mapped, ok := purchaseCategoryAccounts[category]; ok {
			plAccount = mapped
		} else {
			plAccount = purchaseDefaultAccount
		}
	}

	type vatGroup struct {
		base decimal.Decimal
		vat  decimal.Decimal
	}
	groups := make(map[string]*vatGroup)
	order := []string{}
	addGroup := func(rate decimal.Decimal, base, vat decimal.Decimal) {
		key := rate.String()
		g, ok := groups[key]
		if !ok {
			g = &vatGroup{base: decimal.Zero, vat: decimal.Zero}
			groups[key] = g
			order = append(order, key)
		}
		g.base = g.base.Add(base)
		g.vat = g.vat.Add(vat)
	}

	for _, line := range inv.Lines {
		base := line.Amount.Abs()
		rate := line.VATRate
		if rate.IsZero() && !tax.IsZero() {
			rate = ivaRate
		}
		vat := base.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
		addGroup(rate, base, vat)
	}
	if len(groups) == 0 {
		addGroup(ivaRate, net, tax)
	}

	// Expense debits / revenue credits flip for credit notes
	debitSide := !isSales
	if creditNote {
		debitSide = !debitSide
	}

	vatAccount := purchaseVATAccount
	vatConcept := "IVA SOPORTADO"
	if isSales {
		vatAccount = salesVATAccount
		vatConcept = "IVA REPERCUTIDO"
	}

	ref := inv.InvoiceNumber
	if ref == "" {
		ref = inv.SupplierName
	}

	var lines []models.EntryLine
	for _, key := range order {
		g := groups[key]
		if !g.base.IsPositive() {
			continue
		}
		rate := decimal.RequireFromString(key)
		lines = append(lines, entryLine(plAccount,
			fmt.Sprintf("%s (%s%%)", ref, rate.StringFixed(2)),
			g.base, debitSide, rate, ""))
		if g.vat.IsPositive() {
			lines = append(lines, entryLine(vatAccount,
				fmt.Sprintf("%s %s%%", vatConcept, rate.StringFixed(2)),
				g.vat, debitSide, rate, ""))
		}
	}

	// Counterparty line balances the entry with the gross amount
	if isSales {
		lines = append(lines, entryLine(pol.CustomerAccount, inv.SupplierName,
			gross, !creditNote, decimal.Zero, inv.SupplierNIF))
	} else {
		lines = append(lines, entryLine(pol.SupplierAccount, inv.SupplierName,
			gross, creditNote, decimal.Zero, inv.SupplierNIF))
	}

	journal := pol.PurchaseJournal
	if isSales {
		journal = pol.SalesJournal
	}

	return models.CandidateEntry{
		DocID:         docID,
		Tenant:        tenant,
		Journal:       journal,
		Date:          entryDate,
		DueDate:       inv.DueDate,
		InvoiceNumber: inv.InvoiceNumber,
		Currency:      inv.Currency,
		SupplierName:  inv.SupplierName,
		SupplierNIF:   inv.SupplierNIF,
		Lines:         lines,
		MappingSource: mappingSource,
		Flow:          flow,
		CreditNote:    creditNote,
		Gross:         gross,
	}
}

func entryLine(account, description string, amount decimal.Decimal, debit bool, rate decimal.Decimal, nif string) models.EntryLine {
	line := models.EntryLine{
		Account:     account,
		Description: description,
		VATRate:     rate,
		NIF:         nif,
	}
	if debit {
		line.Debit = amount
	} else {
		line.Credit = amount
	}
	return line
}

// linesIncomplete reports a material invoice with no meaningful line detail
func linesIncomplete(inv *normalize.Invoice) bool {
	if inv.Gross.LessThanOrEqual(decimal.NewFromInt(20)) {
		return false
	}
	for _, line := range inv.Lines {
		if line.Amount.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return false
		}
	}
	return true
}
