package service

import (
	"context"
	"fmt"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// 操作端指令入口（consumer.CommandTarget 实现）。
// 解析由指令消费者完成，这里只做归属查找与转发。

// SetPaddockMode 田块模式指令
func (s *WaterService) SetPaddockMode(ctx context.Context, slug string, mode models.Mode) error {
	coord, ok := s.coordinators[slug]
	if !ok {
		return fmt.Errorf("unknown paddock: %s", slug)
	}
	return coord.SetPaddockMode(ctx, mode)
}

// SetBayMode 格田模式指令
func (s *WaterService) SetBayMode(ctx context.Context, ref models.BayRef, mode models.Mode) error {
	c, ok := s.controllers[ref]
	if !ok {
		return fmt.Errorf("unknown bay: %s", ref.String())
	}
	return c.SetMode(ctx, mode)
}

// UpdateBayThresholds 格田阈值修改指令
func (s *WaterService) UpdateBayThresholds(ctx context.Context, ref models.BayRef, update models.ThresholdUpdate) error {
	c, ok := s.controllers[ref]
	if !ok {
		return fmt.Errorf("unknown bay: %s", ref.String())
	}
	return c.UpdateThresholds(ctx, update)
}

// ManualDoor 控制点人工操作。走与自动控制相同的路由守卫
// （未绑定抑制、回读幂等跳过），不绕过。
func (s *WaterService) ManualDoor(ctx context.Context, key models.ControlPointKey, state models.DoorState) error {
	return s.router.Apply(ctx, key, state)
}
