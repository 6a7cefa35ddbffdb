package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/certiva/docpipe/internal/models"
)

// LarkConfig holds the messaging app credentials and target chat
type LarkConfig struct {
	AppID     string
	AppSecret string
	ReceiveID string
}

// LarkNotifier posts review alerts to a Lark chat
type LarkNotifier struct {
	client    *lark.Client
	receiveID string
	logger    *zap.Logger
}

func NewLarkNotifier(cfg LarkConfig, logger *zap.Logger) *LarkNotifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkNotifier{
		client:    client,
		receiveID: cfg.ReceiveID,
		logger:    logger,
	}
}

// NotifyReview implements ReviewNotifier
func (n *LarkNotifier) NotifyReview(ctx context.Context, item *models.ReviewItem) error {
	text := fmt.Sprintf("Factura pendiente de revisión\nDocumento: %s\nTenant: %s\nMotivo: %s\nIncidencias: %s",
		item.DocID.String(), item.Tenant, item.Reason, strings.Join(item.Issues, ", "))

	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := n.client.Im.Message.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send review notification",
			zap.String("doc_id", item.DocID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to send review notification: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("Messaging API returned failure",
			zap.String("doc_id", item.DocID.String()),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("messaging API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Review notification sent",
		zap.String("doc_id", item.DocID.String()),
		zap.String("receive_id", n.receiveID))
	return nil
}
