package controller

import (
	"math"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// 固定水位常量。由站点量程决定，不随格田配置。
const (
	// DepthFloor 水深下限钳制：换算结果 ≤ −10 一律报 −10
	DepthFloor = -10.0
	// DrainEmpty 排空判定阈值：水深低于 −8 视为排净
	DrainEmpty = -8.0
)

// DeriveDepth 把站点读数换算为格田水深：
// 读数减偏移，四舍五入到一位小数，到底后钳制为 DepthFloor。
func DeriveDepth(reading, offset float64) models.Depth {
	v := math.Round((reading-offset)*10) / 10
	if v <= DepthFloor {
		v = DepthFloor
	}
	return models.Depth{Value: v, Available: true}
}

// EvalInput 一次格田决策的全部输入
type EvalInput struct {
	Mode        models.Mode
	FlushActive bool
	Depth       models.Depth
	DepthMin    float64
	DepthMax    float64
	FirstBay    bool
	LastBay     bool
	// DownstreamFlush 下游格田冲灌中；末位格田恒为 false
	DownstreamFlush bool
	// ChannelDepth 供水渠水深，仅首格田蓄水分支使用
	ChannelDepth models.Depth
}

// Decision 决策产物。nil 闸门字段表示保持现状不下指令。
type Decision struct {
	OwnSupply       *models.DoorState
	DownstreamDrain *models.DoorState
	NextMode        *models.Mode // 自行终止时为 Off
	Notice          string       // 事件类型；空串不通知
}

// Evaluate 冲灌/蓄水决策。排水走脉冲流程（EvaluateDrain），
// 关闭不做任何闸门动作。
func Evaluate(in EvalInput) Decision {
	switch in.Mode {
	case models.ModeFlush:
		return evaluateFlush(in)
	case models.ModePond:
		return evaluatePond(in)
	}
	return Decision{}
}

// evaluateFlush 冲灌决策。共享闸门（本格田的下游排水即下一格田的进水闸）
// 在下游冲灌期间归下游支配，本格田全部动作让行。
func evaluateFlush(in EvalInput) Decision {
	if !in.Depth.Available {
		// 遥测不可用：不参与比较，保持当前指令状态
		return Decision{}
	}
	d := in.Depth.Value

	wantAdd := d < in.DepthMin || (in.FlushActive && d <= in.DepthMax)
	wantRelease := in.FlushActive && d > in.DepthMax
	wantFinish := !in.FlushActive

	if in.DownstreamFlush {
		if wantAdd || wantRelease || wantFinish {
			return Decision{Notice: models.EventWaitingForWater}
		}
		return Decision{}
	}

	switch {
	case wantAdd:
		// 加水：关下游排水，开本格田进水
		return Decision{
			OwnSupply:       doorPtr(models.DoorOpen),
			DownstreamDrain: doorPtr(models.DoorClose),
		}
	case wantRelease:
		// 超上限放水：冲灌波向下游推进
		return Decision{DownstreamDrain: doorPtr(models.DoorOpen)}
	default:
		// 冲灌标志已灭且下游空闲：本格田收尾，自行归位
		off := models.ModeOff
		return Decision{
			DownstreamDrain: doorPtr(models.DoorOpen),
			NextMode:        &off,
			Notice:          models.EventFlushFinished,
		}
	}
}

// evaluatePond 蓄水决策。与冲灌的加/保持/放分支同构，但不看邻格田：
// 各格田独立维持水深在 [min, max] 区间。
func evaluatePond(in EvalInput) Decision {
	var dec Decision

	// 首格田核对供水渠水位；低于本格田水深说明渠里供不上水
	if in.FirstBay && in.Depth.Available && in.ChannelDepth.Available &&
		in.ChannelDepth.Value < in.Depth.Value {
		dec.Notice = models.EventLowSupply
	}

	if !in.Depth.Available {
		return dec
	}

	switch d := in.Depth.Value; {
	case d < in.DepthMin:
		dec.OwnSupply = doorPtr(models.DoorOpen)
		if in.LastBay {
			// 末位格田没有下游可放，加水时顺带关死末端排水
			dec.DownstreamDrain = doorPtr(models.DoorClose)
		}
	case d > in.DepthMax:
		dec.DownstreamDrain = doorPtr(models.DoorOpen)
	}
	return dec
}

// DrainStep 排水流程一步的判定结果
type DrainStep int

const (
	// DrainStepHold 水深不可用：本轮不开闸，等下个间歇再看
	DrainStepHold DrainStep = iota
	// DrainStepPulse 还有水：开闸一个脉冲再关闭整个间歇
	DrainStepPulse
	// DrainStepDone 已排净：敞开排水闸收场
	DrainStepDone
)

// EvaluateDrain 排水判定。脉冲节流保护下游渠系，直到水深跌破排空阈值。
func EvaluateDrain(depth models.Depth) DrainStep {
	if !depth.Available {
		return DrainStepHold
	}
	if depth.Value < DrainEmpty {
		return DrainStepDone
	}
	return DrainStepPulse
}

// SetupActions 模式进场动作（防抖到位后执行一次）
type SetupActions struct {
	FlushActive     bool
	OwnSupply       *models.DoorState
	DownstreamDrain *models.DoorState
	Notice          string
}

// SetupFor 模式进场动作表。排水与关闭没有进场动作，
// 排水的闸门操作全部在脉冲流程里。
func SetupFor(mode models.Mode, lastBay bool) SetupActions {
	switch mode {
	case models.ModeFlush:
		return SetupActions{
			FlushActive:     true,
			DownstreamDrain: doorPtr(models.DoorClose),
			Notice:          models.EventFlushingStarted,
		}
	case models.ModePond:
		act := SetupActions{
			OwnSupply: doorPtr(models.DoorOpen),
			Notice:    models.EventFillingStarted,
		}
		if lastBay {
			act.DownstreamDrain = doorPtr(models.DoorClose)
		}
		return act
	}
	return SetupActions{}
}

// crossedThreshold 判断水深从 prev 到 cur 是否跨越了任一阈值边界。
// 可用性翻转本身算一次变化；平稳读数不触发重评估，周期评估兜底。
func crossedThreshold(prev, cur models.Depth, min, max float64) bool {
	if !prev.Available || !cur.Available {
		return prev.Available != cur.Available
	}
	if (prev.Value < min) != (cur.Value < min) {
		return true
	}
	if (prev.Value > max) != (cur.Value > max) {
		return true
	}
	return false
}

func doorPtr(s models.DoorState) *models.DoorState {
	return &s
}
