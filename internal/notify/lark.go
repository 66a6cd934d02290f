package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expenseflow/approval-engine/internal/models"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// LarkChannel delivers notifications as Lark IM text messages, addressed by
// the user's open id. Users without a Lark binding are skipped silently.
type LarkChannel struct {
	client *lark.Client
	logger *zap.Logger
}

// NewLarkChannel builds a channel backed by the Lark open platform.
func NewLarkChannel(appID, appSecret string, logger *zap.Logger) *LarkChannel {
	client := lark.NewClient(appID, appSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkChannel{client: client, logger: logger}
}

// Name implements Channel.
func (c *LarkChannel) Name() string { return "lark" }

// Deliver implements Channel.
func (c *LarkChannel) Deliver(ctx context.Context, user *models.User, n *models.Notification) error {
	if user.LarkOpenID == "" {
		return nil
	}

	content, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("%s\n%s", n.Title, n.Message),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(user.LarkOpenID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send lark message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	c.logger.Debug("Lark message delivered",
		zap.Int64("user_id", user.ID),
		zap.String("kind", n.Kind))
	return nil
}
