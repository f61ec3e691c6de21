package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	mqttcommon "github.com/PKmac78/paddisense-release/common/mqtt"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// ReadingListener 某设备遥测更新的回调
type ReadingListener func(device string, reading models.Reading)

// TelemetryConsumer 订阅水位遥测：解析载荷、写入缓存，
// 再通知登记了该设备的控制器。
type TelemetryConsumer struct {
	mqttClient *mqttcommon.Client
	cache      *CacheManager
	logger     *zap.Logger

	mu        sync.RWMutex
	listeners map[string][]ReadingListener
}

// NewTelemetryConsumer 创建遥测消费者
func NewTelemetryConsumer(mqttClient *mqttcommon.Client, cache *CacheManager, logger *zap.Logger) *TelemetryConsumer {
	return &TelemetryConsumer{
		mqttClient: mqttClient,
		cache:      cache,
		logger:     logger,
		listeners:  make(map[string][]ReadingListener),
	}
}

// RegisterListener 登记设备遥测监听（装配阶段调用，反向索引设备→格田）
func (c *TelemetryConsumer) RegisterListener(device string, fn ReadingListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[device] = append(c.listeners[device], fn)
}

// Start 启动消费者，阻塞至上下文取消
func (c *TelemetryConsumer) Start(ctx context.Context) error {
	topic := topics.SensorDistanceWildcard()
	if err := c.mqttClient.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("Telemetry consumer started", zap.String("topic", topic))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *TelemetryConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(topics.SensorDistanceWildcard()); err != nil {
		c.logger.Error("Failed to unsubscribe telemetry topic", zap.Error(err))
	}
	c.logger.Info("Telemetry consumer stopped")
	return nil
}

// handleMessage 处理一条遥测消息
// 主题格式: paddisense/sensor/{device}/distance
func (c *TelemetryConsumer) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[3] != "distance" {
		return fmt.Errorf("invalid telemetry topic: %s", topic)
	}
	device := parts[2]

	reading, err := ParseReadingPayload(payload, time.Now())
	if err != nil {
		return fmt.Errorf("device %s: %w", device, err)
	}

	// 缓存失败只告警，不拦截在线通知
	if err := c.cache.SetReading(context.Background(), device, reading); err != nil {
		c.logger.Error("Failed to cache reading",
			zap.String("device", device),
			zap.Error(err))
	}

	c.mu.RLock()
	fns := c.listeners[device]
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(device, reading)
	}
	return nil
}

// ParseReadingPayload 解析遥测载荷。
// 支持三种形态：JSON对象 {"distance":…, "timestamp":…}、裸数字字符串、
// 以及不可用哨兵（"unavailable"/"unknown"/"none"/空串）。
func ParseReadingPayload(payload []byte, now time.Time) (models.Reading, error) {
	s := strings.TrimSpace(string(payload))
	switch strings.ToLower(s) {
	case "", "unavailable", "unknown", "none":
		return models.Reading{Available: false, Timestamp: now.Unix()}, nil
	}

	if strings.HasPrefix(s, "{") {
		var body struct {
			Distance  *float64 `json:"distance"`
			Timestamp int64    `json:"timestamp"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return models.Reading{}, fmt.Errorf("invalid telemetry payload: %w", err)
		}
		ts := body.Timestamp
		if ts == 0 {
			ts = now.Unix()
		}
		if body.Distance == nil {
			return models.Reading{Available: false, Timestamp: ts}, nil
		}
		return models.Reading{Value: *body.Distance, Available: true, Timestamp: ts}, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return models.Reading{}, fmt.Errorf("invalid telemetry payload: %q", s)
	}
	return models.Reading{Value: v, Available: true, Timestamp: now.Unix()}, nil
}
