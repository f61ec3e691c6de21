// Package topics 集中定义MQTT主题约定。
// 生成器、消费者与控制器共用同一组构造函数，避免主题字符串漂移。
package topics

import (
	"fmt"

	"github.com/PKmac78/paddisense-release/internal/models"
)

const root = "paddisense"

// SensorDistance 设备水位遥测主题
func SensorDistance(device string) string {
	return fmt.Sprintf("%s/sensor/%s/distance", root, device)
}

// SensorDistanceWildcard 遥测订阅通配主题
func SensorDistanceWildcard() string {
	return root + "/sensor/+/distance"
}

// DoorSet 闸门指令主题（唯一写入方：闸门路由）
func DoorSet(device string) string {
	return fmt.Sprintf("%s/door/%s/set", root, device)
}

// DoorState 闸门回读主题
func DoorState(device string) string {
	return fmt.Sprintf("%s/door/%s/state", root, device)
}

// DoorStateWildcard 闸门回读订阅通配主题
func DoorStateWildcard() string {
	return root + "/door/+/state"
}

// PaddockModeSet 田块模式指令主题
func PaddockModeSet(slug string) string {
	return fmt.Sprintf("%s/pwm/%s/mode/set", root, slug)
}

// PaddockModeState 田块模式状态主题（retained）
func PaddockModeState(slug string) string {
	return fmt.Sprintf("%s/pwm/%s/mode/state", root, slug)
}

// PaddockModeSetWildcard 田块模式指令订阅通配主题
func PaddockModeSetWildcard() string {
	return root + "/pwm/+/mode/set"
}

// BayModeSet 格田模式指令主题
func BayModeSet(slug string, bay int) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/mode/set", root, slug, bay)
}

// BayModeState 格田模式状态主题（retained）
func BayModeState(slug string, bay int) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/mode/state", root, slug, bay)
}

// BayModeSetWildcard 格田模式指令订阅通配主题
func BayModeSetWildcard() string {
	return root + "/pwm/+/bay/+/mode/set"
}

// BayThresholdsSet 格田阈值指令主题
func BayThresholdsSet(slug string, bay int) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/thresholds/set", root, slug, bay)
}

// BayThresholdsSetWildcard 格田阈值指令订阅通配主题
func BayThresholdsSetWildcard() string {
	return root + "/pwm/+/bay/+/thresholds/set"
}

// BayFlushActive 格田冲灌标志状态主题（retained，"on"/"off"）
func BayFlushActive(slug string, bay int) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/flush_active", root, slug, bay)
}

// BayDepth 格田水深状态主题（retained，一位小数或 "unavailable"）
func BayDepth(slug string, bay int) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/depth", root, slug, bay)
}

// BayDoorSet 控制点人工指令主题
func BayDoorSet(slug string, bay int, role models.Role) string {
	return fmt.Sprintf("%s/pwm/%s/bay/%d/door/%s/set", root, slug, bay, role)
}

// BayDoorSetWildcard 控制点人工指令订阅通配主题
func BayDoorSetWildcard() string {
	return root + "/pwm/+/bay/+/door/+/set"
}

// Event 控制事件主题
func Event() string {
	return root + "/pwm/event"
}
