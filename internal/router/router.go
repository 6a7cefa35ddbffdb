// Package router makes the terminal disposition for a processed document.
// Routing is total: every input maps to exactly one of AUTO_POST,
// REVIEW_PENDING, or ERROR.
package router

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/policy"
)

// Input carries everything the routing decision depends on
type Input struct {
	DocID            models.DocumentID
	Tenant           string
	Category         string
	Issues           []string
	ExtractionConf   float64
	EntryConf        float64
	ExtractionFailed bool
	Policy           *policy.TenantPolicy
}

// Decision is the routing outcome. Issues includes any codes added by the
// router itself (POLICY_AUTOREVIEW, CATEGORY_REVIEW, LOW_CONFIDENCE,
// CANARY_SAMPLE).
type Decision struct {
	Disposition models.Disposition
	Issues      []string
	GlobalConf  float64
}

// Router applies the ordered decision rules. The random source is
// injectable so canary routing stays deterministic in tests.
type Router struct {
	rng    func() float64
	logger *zap.Logger
}

// Option configures a Router
type Option func(*Router)

// WithRandSource overrides the canary sampling source
func WithRandSource(rng func() float64) Option {
	return func(r *Router) { r.rng = rng }
}

func New(logger *zap.Logger, opts ...Option) *Router {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	r := &Router{rng: src.Float64, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route evaluates the decision rules in fixed order. Canary sampling runs
// last and applies only to documents that are otherwise eligible for
// auto-posting.
func (r *Router) Route(in Input) Decision {
	issues := append([]string(nil), in.Issues...)
	global := in.ExtractionConf
	if in.EntryConf < global {
		global = in.EntryConf
	}

	decide := func(d models.Disposition) Decision {
		r.logger.Debug("Routing decision",
			zap.String("doc_id", in.DocID.String()),
			zap.String("disposition", string(d)),
			zap.Float64("global_conf", global),
			zap.Strings("issues", issues))
		return Decision{Disposition: d, Issues: issues, GlobalConf: global}
	}

	if in.ExtractionFailed {
		return decide(models.DispositionError)
	}

	if !in.Policy.AutopostEnabled {
		issues = models.AppendIssue(issues, models.IssuePolicyAutoReview)
		return decide(models.DispositionReviewPending)
	}

	if models.HasCritical(issues) {
		return decide(models.DispositionReviewPending)
	}

	if global < in.Policy.MinEntryConf {
		issues = models.AppendIssue(issues, models.IssueLowConfidence)
		return decide(models.DispositionReviewPending)
	}

	if !in.Policy.IsSafeCategory(in.Category) {
		issues = models.AppendIssue(issues, models.IssueCategoryReview)
		return decide(models.DispositionReviewPending)
	}

	if pct := in.Policy.CanarySamplePct; pct > 0 && r.rng() < pct {
		issues = models.AppendIssue(issues, models.IssueCanarySample)
		return decide(models.DispositionReviewPending)
	}

	return decide(models.DispositionAutoPost)
}
