package service

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topics"
)

// 保留状态发布（controller.StatePublisher 与 coordinator.PaddockPublisher 实现）。
// 发布失败只记日志：retained 主题会被下一次状态变化覆盖。

// PublishPaddockMode 田块模式状态
func (s *WaterService) PublishPaddockMode(slug string, mode models.Mode) {
	s.publishRetained(topics.PaddockModeState(slug), string(mode))
}

// PublishBayMode 格田模式状态
func (s *WaterService) PublishBayMode(ref models.BayRef, mode models.Mode) {
	s.publishRetained(topics.BayModeState(ref.Paddock, ref.Bay), string(mode))
}

// PublishFlushActive 格田冲灌标志状态
func (s *WaterService) PublishFlushActive(ref models.BayRef, active bool) {
	payload := "off"
	if active {
		payload = "on"
	}
	s.publishRetained(topics.BayFlushActive(ref.Paddock, ref.Bay), payload)
}

// PublishDepth 格田水深状态（一位小数，不可用时为 "unavailable"）
func (s *WaterService) PublishDepth(ref models.BayRef, depth models.Depth) {
	payload := "unavailable"
	if depth.Available {
		payload = strconv.FormatFloat(depth.Value, 'f', 1, 64)
	}
	s.publishRetained(topics.BayDepth(ref.Paddock, ref.Bay), payload)
}

func (s *WaterService) publishRetained(topic, payload string) {
	if err := s.mqttClient.Publish(topic, s.config.MQTT.QoS, true, []byte(payload)); err != nil {
		s.logger.Error("Failed to publish retained state",
			zap.String("topic", topic),
			zap.Error(err))
	}
}
