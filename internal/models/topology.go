package models

import (
	"strconv"
	"strings"
)

// Unset 设备未绑定的规范值。载入与写出时 ""/"none"/"null"（含大小写、
// 首尾空白变体）一律归一化为该值。
const Unset = "unset"

// NormalizeDevice 归一化设备绑定值。有效绑定去除首尾空白后原样保留。
func NormalizeDevice(s string) string {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "none", "null", Unset:
		return Unset
	}
	return trimmed
}

// IsBound 判断设备绑定是否有效
func IsBound(device string) bool {
	return device != "" && device != Unset
}

// BayEntry 格田条目。Device 为组合式站点设备（水位传感器 + 进水闸一体），
// SpurDevice/ChannelDevice 为可选的附加控制点绑定。
type BayEntry struct {
	Name          string
	Number        int
	Device        string
	SpurDevice    string
	ChannelDevice string
}

// DrainEntry 末端排水条目，命名跟随末位格田（如 "B-03 Drain"）
type DrainEntry struct {
	Name   string
	Device string
}

// Paddock 田块：有序格田链 + 一个末端排水
type Paddock struct {
	Slug        string
	DisplayName string
	Enabled     bool
	Individual  bool // automation_state_individual：格田独立运行，不随田块模式联动
	Bays        []BayEntry
	Drain       DrainEntry
}

// LastBayNumber 末位格田序号；无格田时返回0
func (p *Paddock) LastBayNumber() int {
	if len(p.Bays) == 0 {
		return 0
	}
	return p.Bays[len(p.Bays)-1].Number
}

// BayByNumber 按序号查找格田
func (p *Paddock) BayByNumber(n int) (*BayEntry, bool) {
	for i := range p.Bays {
		if p.Bays[i].Number == n {
			return &p.Bays[i], true
		}
	}
	return nil, false
}

// BayNumberFromName 从格田名末尾的数字串解析序号（"B-01" → 1）
func BayNumberFromName(name string) (int, bool) {
	end := len(name)
	start := end
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
