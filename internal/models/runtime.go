package models

// Reading 设备水位遥测的最新缓存值
type Reading struct {
	Value     float64 `json:"value"`
	Available bool    `json:"available"`
	Timestamp int64   `json:"timestamp"`
}

// Depth 换算后的格田水深。Available 为 false 时 Value 无意义，
// 不得参与任何阈值比较。
type Depth struct {
	Value     float64
	Available bool
}

// BaySettings 格田控制参数（生成的配置单元里的初始值，运行期可改）
type BaySettings struct {
	DepthMin         float64 `json:"depth_min" yaml:"depth_min"`
	DepthMax         float64 `json:"depth_max" yaml:"depth_max"`
	DepthOffset      float64 `json:"depth_offset" yaml:"depth_offset"`
	FlushHoldMinutes int     `json:"flush_hold_minutes" yaml:"flush_hold_minutes"`
}

// ThresholdUpdate 阈值部分更新（MQTT指令载荷，nil 字段不改动）
type ThresholdUpdate struct {
	DepthMin         *float64 `json:"depth_min,omitempty"`
	DepthMax         *float64 `json:"depth_max,omitempty"`
	DepthOffset      *float64 `json:"depth_offset,omitempty"`
	FlushHoldMinutes *int     `json:"flush_hold_minutes,omitempty"`
}

// BayRuntime 格田运行状态（写入Redis，重启后恢复）
type BayRuntime struct {
	Mode             Mode      `json:"mode"`
	FlushActive      bool      `json:"flush_active"`
	PendingSetup     bool      `json:"pending_setup,omitempty"` // 模式进场动作尚未执行
	DoorState        DoorState `json:"door_state"`              // 本格田进水闸最近一次指令状态
	DepthMin         float64   `json:"depth_min"`
	DepthMax         float64   `json:"depth_max"`
	DepthOffset      float64   `json:"depth_offset"`
	FlushHoldMinutes int       `json:"flush_hold_minutes"`
	UpdatedAt        int64     `json:"updated_at"`
}

// Settings 提取运行状态中的控制参数
func (r *BayRuntime) Settings() BaySettings {
	return BaySettings{
		DepthMin:         r.DepthMin,
		DepthMax:         r.DepthMax,
		DepthOffset:      r.DepthOffset,
		FlushHoldMinutes: r.FlushHoldMinutes,
	}
}

// 倒计时用途
const (
	TimerFlushTimeOnWater = "flush_time_on_water" // 格田级：到点结束冲灌
	TimerFlushCloseSupply = "flush_close_supply"  // 田块级：到点提醒关总进水闸
)

// CountdownRecord 持久化倒计时记录。Bay 为 0 表示田块级倒计时。
// 进程重启后按剩余时长重新排程，已过期的立即触发。
type CountdownRecord struct {
	Paddock  string `json:"paddock"`
	Bay      int    `json:"bay"`
	Purpose  string `json:"purpose"`
	Deadline int64  `json:"deadline"` // Unix秒
}
