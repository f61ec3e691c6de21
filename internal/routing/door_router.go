package routing

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/consumer"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

// Publisher MQTT指令出口
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DoorRouter 闸门指令路由：控制点键 → 拓扑绑定 → 设备指令主题。
// 守护进程内单实例。发布一次不重试，失败交给周期评估补救；
// 幂等靠两道闸：路由器记忆的上一条指令，和设备上报的回读状态。
type DoorRouter struct {
	registry  *topology.Registry
	cache     *consumer.CacheManager
	publisher Publisher
	qos       byte
	logger    *zap.Logger

	mu   sync.Mutex
	last map[models.ControlPointKey]models.DoorState
}

// NewDoorRouter 创建闸门路由
func NewDoorRouter(registry *topology.Registry, cache *consumer.CacheManager, publisher Publisher, qos byte, logger *zap.Logger) *DoorRouter {
	return &DoorRouter{
		registry:  registry,
		cache:     cache,
		publisher: publisher,
		qos:       qos,
		logger:    logger,
		last:      make(map[models.ControlPointKey]models.DoorState),
	}
}

// Apply 以路由器记忆的前值构造变更并路由。控制器和人工指令都走这里。
func (r *DoorRouter) Apply(ctx context.Context, key models.ControlPointKey, target models.DoorState) error {
	var before *models.DoorState
	r.mu.Lock()
	if prev, ok := r.last[key]; ok {
		p := prev
		before = &p
	}
	r.mu.Unlock()
	t := target
	return r.Route(ctx, models.ControlPointChange{Key: key, Before: before, After: &t})
}

// Route 路由一次控制点状态变更。
// 丢弃：前后都为空、没有目标状态、前后相同。
// 压制（记日志不算错）：拓扑里查无此键、绑定为 unset、设备回读已是目标状态。
func (r *DoorRouter) Route(ctx context.Context, change models.ControlPointChange) error {
	if change.Before == nil && change.After == nil {
		return nil
	}
	if change.After == nil {
		return nil
	}
	if change.Before != nil && *change.Before == *change.After {
		return nil
	}
	target := *change.After

	device, ok := r.registry.DeviceFor(change.Key)
	if !ok {
		r.logger.Warn("Control point not in topology, command dropped",
			zap.String("point", change.Key.String()),
			zap.String("target", string(target)))
		return nil
	}
	if !models.IsBound(device) {
		r.logger.Debug("Control point unbound, command suppressed",
			zap.String("point", change.Key.String()),
			zap.String("target", string(target)))
		return nil
	}

	// 设备已处于目标状态则不再下发
	if state, err := r.cache.GetDoorState(ctx, device); err == nil && state == target {
		r.remember(change.Key, target)
		r.logger.Debug("Device already at target state, command skipped",
			zap.String("point", change.Key.String()),
			zap.String("device", device),
			zap.String("target", string(target)))
		return nil
	}

	topic := topics.DoorSet(device)
	if err := r.publisher.Publish(topic, r.qos, false, []byte(target)); err != nil {
		return fmt.Errorf("failed to route door command %s -> %s: %w", change.Key, device, err)
	}
	r.remember(change.Key, target)
	r.logger.Info("Door command routed",
		zap.String("point", change.Key.String()),
		zap.String("device", device),
		zap.String("target", string(target)))
	return nil
}

// LastCommanded 路由器记忆的上一条指令（诊断用）
func (r *DoorRouter) LastCommanded(key models.ControlPointKey) (models.DoorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.last[key]
	return s, ok
}

func (r *DoorRouter) remember(key models.ControlPointKey, state models.DoorState) {
	r.mu.Lock()
	r.last[key] = state
	r.mu.Unlock()
}
