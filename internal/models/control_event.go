package models

import "time"

// 控制事件类型
const (
	EventFlushingStarted = "flushing_started" // 格田进入冲灌，已开始放水
	EventFillingStarted  = "filling_started"  // 格田进入蓄水，已开始进水
	EventWaitingForWater = "waiting_for_water" // 下游仍在冲灌，本格田等待
	EventLowSupply       = "low_supply"        // 供水渠水位低于首格田水位
	EventCloseSupplyDue  = "close_supply_due"  // 冲灌收尾倒计时到点，提醒关总进水闸
	EventFlushFinished   = "flush_finished"    // 格田冲灌自行结束
)

// 事件级别
const (
	SeverityInfo    = "INFO"
	SeverityNotice  = "NOTICE"
	SeverityWarning = "WARNING"
)

// ControlEvent 控制事件（对应 control_events 表，同时镜像到MQTT事件主题）
type ControlEvent struct {
	EventID     string    `json:"event_id" db:"event_id"`
	PaddockSlug string    `json:"paddock_slug" db:"paddock_slug"`
	BayName     string    `json:"bay_name,omitempty" db:"bay_name"` // 田块级事件为空
	EventType   string    `json:"event_type" db:"event_type"`
	Severity    string    `json:"severity" db:"severity"`
	Message     string    `json:"message" db:"message"`
	EventData   string    `json:"event_data,omitempty" db:"event_data"` // JSONB快照
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
