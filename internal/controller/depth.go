package controller

import (
	"context"

	"github.com/PKmac78/paddisense-release/internal/consumer"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

// DepthResolver 把站点遥测换算成格田水深。
// 格田的水深由它下游站点的传感器测得（站点装在格田之间的田埂上，
// 量的是身后那格田的水），末位格田由排水站点测。
type DepthResolver struct {
	cache    *consumer.CacheManager
	registry *topology.Registry
}

// NewDepthResolver 创建水深换算器。registry 启动后只读，可并发使用。
func NewDepthResolver(cache *consumer.CacheManager, registry *topology.Registry) *DepthResolver {
	return &DepthResolver{
		cache:    cache,
		registry: registry,
	}
}

// Resolve 计算格田水深。站点未绑定、遥测缺失或已过期都视为不可用，
// 不可用的水深不参与任何比较。
func (r *DepthResolver) Resolve(ctx context.Context, ref models.BayRef, offset float64) models.Depth {
	device, ok := r.registry.DepthDeviceFor(ref.Paddock, ref.Bay)
	if !ok {
		return models.Depth{}
	}
	return r.fromDevice(ctx, device, offset)
}

// Channel 供水渠水深（首格田站点的传感器朝向渠一侧）。
// 与首格田水深用同一偏移换算，两侧偏移在比较中相互抵消。
func (r *DepthResolver) Channel(ctx context.Context, slug string, offset float64) models.Depth {
	device, ok := r.registry.ChannelDepthDeviceFor(slug)
	if !ok {
		return models.Depth{}
	}
	return r.fromDevice(ctx, device, offset)
}

func (r *DepthResolver) fromDevice(ctx context.Context, device string, offset float64) models.Depth {
	if !models.IsBound(device) {
		return models.Depth{}
	}
	reading, err := r.cache.GetReading(ctx, device)
	if err != nil || !reading.Available {
		return models.Depth{}
	}
	return DeriveDepth(reading.Value, offset)
}
