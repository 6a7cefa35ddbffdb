// Package notify delivers review alerts when a document lands in the
// manual review queue.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
)

// ReviewNotifier is implemented by every review alert channel
type ReviewNotifier interface {
	NotifyReview(ctx context.Context, item *models.ReviewItem) error
}

// LogNotifier writes review alerts to the structured log, used when no
// messaging channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReview(_ context.Context, item *models.ReviewItem) error {
	n.logger.Info("Document queued for manual review",
		zap.String("doc_id", item.DocID.String()),
		zap.String("tenant", item.Tenant),
		zap.String("reason", item.Reason),
		zap.Strings("issues", item.Issues))
	return nil
}

// MultiNotifier fans a review alert out to several channels. A failing
// channel is logged and does not block the others.
type MultiNotifier struct {
	notifiers []ReviewNotifier
	logger    *zap.Logger
}

func NewMultiNotifier(logger *zap.Logger, notifiers ...ReviewNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, logger: logger}
}

func (n *MultiNotifier) NotifyReview(ctx context.Context, item *models.ReviewItem) error {
	for _, notifier := range n.notifiers {
		if err := notifier.NotifyReview(ctx, item); err != nil {
			n.logger.Warn("Review notification channel failed",
				zap.String("doc_id", item.DocID.String()),
				zap.Error(err))
		}
	}
	return nil
}
