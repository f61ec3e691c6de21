package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	mqttcommon "github.com/PKmac78/paddisense-release/common/mqtt"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// CommandTarget 操作指令的接收方，由服务装配层实现。
// 格田/田块不存在等业务性拒绝由实现方返回错误，这里只负责解析与分发。
type CommandTarget interface {
	SetPaddockMode(ctx context.Context, slug string, mode models.Mode) error
	SetBayMode(ctx context.Context, ref models.BayRef, mode models.Mode) error
	UpdateBayThresholds(ctx context.Context, ref models.BayRef, update models.ThresholdUpdate) error
	ManualDoor(ctx context.Context, key models.ControlPointKey, state models.DoorState) error
}

// CommandConsumer 订阅操作端指令：田块/格田模式、阈值修改、控制点人工操作。
// 非法载荷记日志后丢弃，不影响其他指令。
type CommandConsumer struct {
	mqttClient *mqttcommon.Client
	target     CommandTarget
	logger     *zap.Logger
}

// NewCommandConsumer 创建指令消费者
func NewCommandConsumer(mqttClient *mqttcommon.Client, target CommandTarget, logger *zap.Logger) *CommandConsumer {
	return &CommandConsumer{
		mqttClient: mqttClient,
		target:     target,
		logger:     logger,
	}
}

func commandTopics() []string {
	return []string{
		topics.PaddockModeSetWildcard(),
		topics.BayModeSetWildcard(),
		topics.BayThresholdsSetWildcard(),
		topics.BayDoorSetWildcard(),
	}
}

// Start 启动消费者，阻塞至上下文取消
func (c *CommandConsumer) Start(ctx context.Context) error {
	for _, topic := range commandTopics() {
		if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to command topic %s: %w", topic, err)
		}
	}

	c.logger.Info("Command consumer started", zap.Strings("topics", commandTopics()))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *CommandConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(commandTopics()...); err != nil {
		c.logger.Error("Failed to unsubscribe command topics", zap.Error(err))
	}
	c.logger.Info("Command consumer stopped")
	return nil
}

// handleMessage 解析并分发一条指令
// 主题格式:
//   paddisense/pwm/{slug}/mode/set
//   paddisense/pwm/{slug}/bay/{n}/mode/set
//   paddisense/pwm/{slug}/bay/{n}/thresholds/set
//   paddisense/pwm/{slug}/bay/{n}/door/{role}/set
func (c *CommandConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[0] != "paddisense" || parts[1] != "pwm" || parts[len(parts)-1] != "set" {
		return fmt.Errorf("invalid command topic: %s", topic)
	}
	slug := parts[2]
	ctx := context.Background()

	switch {
	case len(parts) == 5 && parts[3] == "mode":
		mode, err := models.ParseMode(strings.TrimSpace(string(payload)))
		if err != nil {
			return fmt.Errorf("paddock %s: %w", slug, err)
		}
		return c.target.SetPaddockMode(ctx, slug, mode)

	case len(parts) == 7 && parts[3] == "bay" && parts[5] == "mode":
		bay, err := strconv.Atoi(parts[4])
		if err != nil {
			return fmt.Errorf("invalid bay number in topic %s", topic)
		}
		mode, err := models.ParseMode(strings.TrimSpace(string(payload)))
		if err != nil {
			return fmt.Errorf("bay %s/%d: %w", slug, bay, err)
		}
		return c.target.SetBayMode(ctx, models.BayRef{Paddock: slug, Bay: bay}, mode)

	case len(parts) == 7 && parts[3] == "bay" && parts[5] == "thresholds":
		bay, err := strconv.Atoi(parts[4])
		if err != nil {
			return fmt.Errorf("invalid bay number in topic %s", topic)
		}
		var update models.ThresholdUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			return fmt.Errorf("bay %s/%d: invalid thresholds payload: %w", slug, bay, err)
		}
		return c.target.UpdateBayThresholds(ctx, models.BayRef{Paddock: slug, Bay: bay}, update)

	case len(parts) == 8 && parts[3] == "bay" && parts[5] == "door":
		bay, err := strconv.Atoi(parts[4])
		if err != nil {
			return fmt.Errorf("invalid bay number in topic %s", topic)
		}
		role, err := models.ParseRole(parts[6])
		if err != nil {
			return fmt.Errorf("bay %s/%d: %w", slug, bay, err)
		}
		state, err := models.ParseDoorState(strings.TrimSpace(string(payload)))
		if err != nil {
			return fmt.Errorf("bay %s/%d: %w", slug, bay, err)
		}
		return c.target.ManualDoor(ctx, models.ControlPointKey{Paddock: slug, Bay: bay, Role: role}, state)
	}

	return fmt.Errorf("unrecognized command topic: %s", topic)
}
