package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
	"github.com/certiva/docpipe/internal/policy"
)

func routablePolicy() *policy.TenantPolicy {
	return &policy.TenantPolicy{
		Tenant:          "acme",
		AutopostEnabled: true,
		MinEntryConf:    0.85,
	}
}

func cleanInput() Input {
	return Input{
		DocID:          "doc-1",
		Tenant:         "acme",
		Category:       "suministros",
		ExtractionConf: 0.95,
		EntryConf:      0.95,
		Policy:         routablePolicy(),
	}
}

func fixedRand(v float64) Option {
	return WithRandSource(func() float64 { return v })
}

func TestRouteCleanDocumentAutoPosts(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	d := r.Route(cleanInput())
	assert.Equal(t, models.DispositionAutoPost, d.Disposition)
	assert.Empty(t, d.Issues)
	assert.InDelta(t, 0.95, d.GlobalConf, 0.001)
}

func TestRouteExtractionFailureIsError(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.ExtractionFailed = true
	in.Issues = []string{models.IssueOCRTempError}

	d := r.Route(in)
	assert.Equal(t, models.DispositionError, d.Disposition)
}

func TestRouteAutopostDisabledForcesReview(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.Policy.AutopostEnabled = false

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.Contains(t, d.Issues, models.IssuePolicyAutoReview)
}

func TestRouteCriticalIssueForcesReview(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.Issues = []string{models.IssueAmountMismatch}

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
}

func TestRouteGlobalConfidenceIsMinOfBoth(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.ExtractionConf = 0.95
	in.EntryConf = 0.70

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.Contains(t, d.Issues, models.IssueLowConfidence)
	assert.InDelta(t, 0.70, d.GlobalConf, 0.001)
}

func TestRouteLowExtractionConfidenceForcesReview(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.ExtractionConf = 0.50

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.Contains(t, d.Issues, models.IssueLowConfidence)
}

func TestRouteUnsafeCategoryForcesReview(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.99))

	in := cleanInput()
	in.Policy.SafeCategories = []string{"suministros"}
	in.Category = "viajes"

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.Contains(t, d.Issues, models.IssueCategoryReview)
}

func TestRouteCanarySendsEligibleDocToReview(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.01))

	in := cleanInput()
	in.Policy.CanarySamplePct = 0.1

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.Contains(t, d.Issues, models.IssueCanarySample)
}

func TestRouteCanaryMissLeavesAutoPost(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.5))

	in := cleanInput()
	in.Policy.CanarySamplePct = 0.1

	d := r.Route(in)
	assert.Equal(t, models.DispositionAutoPost, d.Disposition)
}

func TestRouteCanaryOnlyAppliesToEligibleDocuments(t *testing.T) {
	// The sample is drawn after every other rule; an ineligible document
	// keeps its own review reason, never CANARY_SAMPLE.
	r := New(zap.NewNop(), fixedRand(0.0))

	in := cleanInput()
	in.Policy.CanarySamplePct = 1.0
	in.Issues = []string{models.IssueNoRule}

	d := r.Route(in)
	assert.Equal(t, models.DispositionReviewPending, d.Disposition)
	assert.NotContains(t, d.Issues, models.IssueCanarySample)
}

func TestRouteIsDeterministicGivenFixedRand(t *testing.T) {
	r := New(zap.NewNop(), fixedRand(0.5))

	in := cleanInput()
	first := r.Route(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, r.Route(in))
	}
}
