// Package notify 控制事件出口。
// 职责：
// 1. 事件补全（ID、时间戳、默认级别）
// 2. 时间窗去重（同田块/格田/类型）
// 3. 入库 + MQTT 广播
// 事件出口失败只记日志，控制回路不因此中断。
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/repository"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// Publisher MQTT发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Notifier 控制事件通知器
type Notifier struct {
	repo        *repository.ControlEventsRepository
	publisher   Publisher
	qos         byte
	dedupWindow time.Duration
	logger      *zap.Logger
}

// NewNotifier 创建控制事件通知器。dedupWindow <= 0 时关闭去重。
func NewNotifier(
	repo *repository.ControlEventsRepository,
	publisher Publisher,
	qos byte,
	dedupWindow time.Duration,
	logger *zap.Logger,
) *Notifier {
	return &Notifier{
		repo:        repo,
		publisher:   publisher,
		qos:         qos,
		dedupWindow: dedupWindow,
		logger:      logger,
	}
}

// Notify 发出一条控制事件：去重、入库、广播。
func (n *Notifier) Notify(ctx context.Context, event models.ControlEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if event.EventData == "" {
		event.EventData = "{}"
	}

	if n.dedupWindow > 0 {
		recent, err := n.repo.GetRecentControlEvent(ctx, event.PaddockSlug, event.BayName, event.EventType, n.dedupWindow)
		if err != nil {
			// 去重查询失败按未命中处理，宁可重发
			n.logger.Error("Failed to check recent control event",
				zap.String("paddock", event.PaddockSlug),
				zap.String("bay", event.BayName),
				zap.String("event_type", event.EventType),
				zap.Error(err),
			)
		} else if recent != nil {
			n.logger.Debug("Control event suppressed within dedup window",
				zap.String("paddock", event.PaddockSlug),
				zap.String("bay", event.BayName),
				zap.String("event_type", event.EventType),
				zap.Time("previous_at", recent.CreatedAt),
			)
			return
		}
	}

	if err := n.repo.CreateControlEvent(ctx, &event); err != nil {
		n.logger.Error("Failed to persist control event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("Failed to marshal control event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	if err := n.publisher.Publish(topics.Event(), n.qos, false, payload); err != nil {
		n.logger.Error("Failed to publish control event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
		return
	}

	n.logger.Info("Control event emitted",
		zap.String("event_id", event.EventID),
		zap.String("paddock", event.PaddockSlug),
		zap.String("bay", event.BayName),
		zap.String("event_type", event.EventType),
		zap.String("severity", event.Severity),
	)
}
