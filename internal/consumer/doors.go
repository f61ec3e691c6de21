package consumer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqttcommon "github.com/PKmac78/paddisense-release/common/mqtt"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// DoorStateConsumer 订阅闸门回读，维护设备最近上报状态的缓存。
// 回读只用于路由侧的幂等判断，指令不等待也不重试。
type DoorStateConsumer struct {
	mqttClient *mqttcommon.Client
	cache      *CacheManager
	logger     *zap.Logger
}

// NewDoorStateConsumer 创建闸门回读消费者
func NewDoorStateConsumer(mqttClient *mqttcommon.Client, cache *CacheManager, logger *zap.Logger) *DoorStateConsumer {
	return &DoorStateConsumer{
		mqttClient: mqttClient,
		cache:      cache,
		logger:     logger,
	}
}

// Start 启动消费者，阻塞至上下文取消
func (c *DoorStateConsumer) Start(ctx context.Context) error {
	topic := topics.DoorStateWildcard()
	if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to door state topic: %w", err)
	}

	c.logger.Info("Door state consumer started", zap.String("topic", topic))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *DoorStateConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(topics.DoorStateWildcard()); err != nil {
		c.logger.Error("Failed to unsubscribe door state topic", zap.Error(err))
	}
	c.logger.Info("Door state consumer stopped")
	return nil
}

// handleMessage 处理一条回读消息
// 主题格式: paddisense/door/{device}/state
func (c *DoorStateConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "state" {
		return fmt.Errorf("invalid door state topic: %s", topic)
	}
	device := parts[2]

	state, err := models.ParseDoorState(strings.TrimSpace(string(payload)))
	if err != nil {
		return fmt.Errorf("device %s: %w", device, err)
	}

	if err := c.cache.SetDoorState(context.Background(), device, state); err != nil {
		return fmt.Errorf("device %s: %w", device, err)
	}
	return nil
}
