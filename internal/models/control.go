package models

import "fmt"

// Mode 格田运行模式
type Mode string

const (
	ModeFlush Mode = "flush" // 冲灌：保持水流过格田
	ModePond  Mode = "pond"  // 蓄水：维持水深在阈值区间内
	ModeDrain Mode = "drain" // 排水：脉冲式放水直至排空
	ModeOff   Mode = "off"   // 关闭：不做任何闸门操作
)

// ParseMode 解析模式字符串
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFlush, ModePond, ModeDrain, ModeOff:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode: %q", s)
}

// DoorState 闸门指令状态（设备接口的四个离散档位）
type DoorState string

const (
	DoorOpen    DoorState = "open"   // 全开
	DoorHoldOne DoorState = "hold_1" // 一档保持
	DoorClose   DoorState = "close"  // 关闭
	DoorHoldTwo DoorState = "hold_2" // 二档保持
)

// ParseDoorState 解析闸门状态字符串
func ParseDoorState(s string) (DoorState, error) {
	switch DoorState(s) {
	case DoorOpen, DoorHoldOne, DoorClose, DoorHoldTwo:
		return DoorState(s), nil
	}
	return "", fmt.Errorf("unknown door state: %q", s)
}

// Role 控制点角色：一个格田可挂多个命名控制点，各自独立绑定到设备
type Role string

const (
	RoleSupply  Role = "supply"  // 格田进水闸（即站点设备自身的闸门）
	RoleDrain   Role = "drain"   // 末端排水闸（每个田块一个）
	RoleSpur    Role = "spur"    // 支渠闸（可选）
	RoleChannel Role = "channel" // 供水渠闸（可选）
)

// ParseRole 解析控制点角色字符串
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSupply, RoleDrain, RoleSpur, RoleChannel:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown control point role: %q", s)
}

// BayRef 格田引用（田块slug + 格田序号）
type BayRef struct {
	Paddock string `json:"paddock"`
	Bay     int    `json:"bay"`
}

func (r BayRef) String() string {
	return fmt.Sprintf("%s/%d", r.Paddock, r.Bay)
}

// ControlPointKey 控制点键。在装配阶段一次性构造，
// 全程以显式字段传递，不从实体ID字符串反解。
type ControlPointKey struct {
	Paddock string `json:"paddock"`
	Bay     int    `json:"bay"` // RoleDrain 时为末位格田序号
	Role    Role   `json:"role"`
}

func (k ControlPointKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Paddock, k.Bay, k.Role)
}

// ControlPointChange 控制点状态变更（路由输入）
// Before 为 nil 表示原状态未知（人工指令）；两者都为 nil 的变更被丢弃。
type ControlPointChange struct {
	Key    ControlPointKey
	Before *DoorState
	After  *DoorState
}
