package controller

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// DoorDispatcher 闸门指令出口（闸门路由实现）
type DoorDispatcher interface {
	Apply(ctx context.Context, key models.ControlPointKey, target models.DoorState) error
}

// Notifier 控制事件出口。实现方自行处理去重与落库失败，
// 不把错误回传控制回路。
type Notifier interface {
	Notify(ctx context.Context, event models.ControlEvent)
}

// StatePublisher 保留状态发布（模式、冲灌标志、水深）
type StatePublisher interface {
	PublishBayMode(ref models.BayRef, mode models.Mode)
	PublishFlushActive(ref models.BayRef, active bool)
	PublishDepth(ref models.BayRef, depth models.Depth)
}

// Timing 控制节奏参数
type Timing struct {
	EvaluateInterval   time.Duration // 周期评估间隔
	SetupDelay         time.Duration // 模式进场动作防抖
	ThresholdDebounce  time.Duration // 阈值修改落定防抖
	FlushQualify       time.Duration // 冲灌上水资格窗口（连续高于下限）
	DrainPulseBurst    time.Duration // 排水脉冲开闸时长
	DrainPulseCooldown time.Duration // 排水脉冲间歇
}

// BayConfig 装配一个格田控制器所需的静态信息
type BayConfig struct {
	Ref       models.BayRef
	Name      string // 格田名，事件里用
	First     bool
	Last      bool
	SupplyKey models.ControlPointKey
	DrainKey  models.ControlPointKey // 中段格田指向下一格田进水闸，末位指向末端排水闸
	Defaults  models.BaySettings
	Timing    Timing
}

// Deps 格田控制器的运行依赖
type Deps struct {
	Runtime    *RuntimeStore
	Depth      *DepthResolver
	Timers     *TimerStore
	Flag       *FlagHandle
	Downstream FlushFlag
	Router     DoorDispatcher
	Notifier   Notifier
	Publisher  StatePublisher
	Logger     *zap.Logger
}

type triggerKind int

const (
	trigModeChange triggerKind = iota
	trigThresholds
	trigNeighborFlush
	trigDepth
	trigTimerFired
)

type trigger struct {
	kind    triggerKind
	mode    models.Mode
	update  models.ThresholdUpdate
	purpose string
}

// BayController 单格田的反应式控制回路。所有触发（模式切换、阈值修改、
// 水深越界、邻格田冲灌标志、倒计时到点、周期兜底）汇入同一条通道，
// 由一个goroutine顺序消化，运行状态不加锁。
type BayController struct {
	ref       models.BayRef
	name      string
	first     bool
	last      bool
	supplyKey models.ControlPointKey
	drainKey  models.ControlPointKey
	defaults  models.BaySettings
	timing    Timing

	runtime    *RuntimeStore
	depth      *DepthResolver
	timers     *TimerStore
	flag       *FlagHandle
	downstream FlushFlag
	router     DoorDispatcher
	notifier   Notifier
	publisher  StatePublisher
	logger     *zap.Logger

	modeListener   func(ref models.BayRef, mode models.Mode)
	expiryListener func(ref models.BayRef)

	triggers chan trigger
	done     chan struct{}

	// 以下字段仅事件循环goroutine触碰
	state         models.BayRuntime
	lastDepth     models.Depth
	lastPublished *models.Depth
	qualifyArmed  bool
	qualified     bool
	threshArmed   bool
	setupTimer    *time.Timer
	threshTimer   *time.Timer
	qualifyTimer  *time.Timer
	pulseCancel   context.CancelFunc
	pulseDone     chan struct{}
}

// NewBayController 创建格田控制器。Run 之前先挂好监听器。
func NewBayController(cfg BayConfig, deps Deps) *BayController {
	return &BayController{
		ref:        cfg.Ref,
		name:       cfg.Name,
		first:      cfg.First,
		last:       cfg.Last,
		supplyKey:  cfg.SupplyKey,
		drainKey:   cfg.DrainKey,
		defaults:   cfg.Defaults,
		timing:     cfg.Timing,
		runtime:    deps.Runtime,
		depth:      deps.Depth,
		timers:     deps.Timers,
		flag:       deps.Flag,
		downstream: deps.Downstream,
		router:     deps.Router,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		logger:     deps.Logger,
		triggers:   make(chan trigger, 64),
		done:       make(chan struct{}),
	}
}

// Ref 格田引用
func (c *BayController) Ref() models.BayRef {
	return c.ref
}

// SetModeListener 挂接模式上报回调（田块协调器用），Run 前调用
func (c *BayController) SetModeListener(fn func(ref models.BayRef, mode models.Mode)) {
	c.modeListener = fn
}

// SetFlushExpiryListener 挂接冲灌计时到点回调（田块协调器用），Run 前调用
func (c *BayController) SetFlushExpiryListener(fn func(ref models.BayRef)) {
	c.expiryListener = fn
}

// SetMode 请求切换格田模式（操作员指令或田块扇出）
func (c *BayController) SetMode(ctx context.Context, mode models.Mode) error {
	return c.post(ctx, trigger{kind: trigModeChange, mode: mode})
}

// UpdateThresholds 请求修改格田阈值（nil字段不改动）
func (c *BayController) UpdateThresholds(ctx context.Context, update models.ThresholdUpdate) error {
	return c.post(ctx, trigger{kind: trigThresholds, update: update})
}

// OnReading 站点遥测监听器：本格田的水深来源设备有了新读数
func (c *BayController) OnReading(device string, reading models.Reading) {
	c.postOrDrop(trigger{kind: trigDepth})
}

// OnNeighborFlush 下游格田冲灌标志变化
func (c *BayController) OnNeighborFlush(active bool) {
	c.postOrDrop(trigger{kind: trigNeighborFlush})
}

// OnTimerFired 倒计时到点（计时goroutine里调用）
func (c *BayController) OnTimerFired(rec models.CountdownRecord) {
	if err := c.post(context.Background(), trigger{kind: trigTimerFired, purpose: rec.Purpose}); err != nil {
		c.logger.Warn("Countdown fired after controller stopped",
			zap.String("bay", c.ref.String()),
			zap.String("purpose", rec.Purpose))
	}
}

// post 投递触发；控制器已停则报错
func (c *BayController) post(ctx context.Context, t trigger) error {
	select {
	case c.triggers <- t:
		return nil
	case <-c.done:
		return errors.New("bay controller stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postOrDrop 尽力投递；通道满时丢弃，周期评估兜底
func (c *BayController) postOrDrop(t trigger) {
	select {
	case c.triggers <- t:
	default:
		c.logger.Warn("Trigger channel full, dropping trigger",
			zap.String("bay", c.ref.String()),
			zap.Int("kind", int(t.kind)))
	}
}

// Run 事件循环。先恢复持久化状态，再顺序消化触发，ctx撤销后返回。
func (c *BayController) Run(ctx context.Context) {
	defer close(c.done)
	c.restore(ctx)
	ticker := time.NewTicker(c.timing.EvaluateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.stopPulse()
			return
		case <-ticker.C:
			c.evaluate(ctx)
		case <-timerC(c.setupTimer):
			c.runSetup(ctx)
		case <-timerC(c.threshTimer):
			c.onThresholdsSettled(ctx)
		case <-timerC(c.qualifyTimer):
			c.onQualified(ctx)
		case t := <-c.triggers:
			c.handleTrigger(ctx, t)
		}
	}
}

func (c *BayController) handleTrigger(ctx context.Context, t trigger) {
	switch t.kind {
	case trigModeChange:
		c.applyModeChange(ctx, t.mode)
	case trigThresholds:
		c.applyThresholds(ctx, t.update)
	case trigNeighborFlush:
		c.evaluate(ctx)
	case trigDepth:
		c.onDepth(ctx)
	case trigTimerFired:
		c.onCountdown(ctx, t.purpose)
	}
}

// restore 从Redis恢复运行状态；从未写入过的格田取生成单元里的默认值
func (c *BayController) restore(ctx context.Context) {
	rt, err := c.runtime.Load(ctx, c.ref)
	switch {
	case err == nil:
		c.state = *rt
	case errors.Is(err, ErrStateMissing):
		c.state = c.freshState()
		c.persist(ctx)
	default:
		c.logger.Error("Failed to load bay runtime, starting from defaults",
			zap.String("bay", c.ref.String()), zap.Error(err))
		c.state = c.freshState()
	}
	if c.state.Mode == "" {
		c.state.Mode = models.ModeOff
	}
	if c.state.FlushHoldMinutes <= 0 {
		c.state.FlushHoldMinutes = c.defaults.FlushHoldMinutes
	}
	c.flag.Set(c.state.FlushActive)
	c.publisher.PublishBayMode(c.ref, c.state.Mode)
	c.publisher.PublishFlushActive(c.ref, c.state.FlushActive)
	c.reportMode(c.state.Mode)
	if c.state.PendingSetup {
		// 停机打断了进场防抖，重新计满
		c.armSetup()
	}
	c.lastDepth = c.resolveDepth(ctx)
	c.evaluate(ctx)
	c.logger.Info("Bay controller restored",
		zap.String("bay", c.ref.String()),
		zap.String("mode", string(c.state.Mode)),
		zap.Bool("flush_active", c.state.FlushActive))
}

func (c *BayController) freshState() models.BayRuntime {
	return models.BayRuntime{
		Mode:             models.ModeOff,
		DoorState:        models.DoorClose,
		DepthMin:         c.defaults.DepthMin,
		DepthMax:         c.defaults.DepthMax,
		DepthOffset:      c.defaults.DepthOffset,
		FlushHoldMinutes: c.defaults.FlushHoldMinutes,
	}
}

// applyModeChange 模式切换：撤销旧模式的一切在途活动，再按新模式布置。
// 同值重选不动作。
func (c *BayController) applyModeChange(ctx context.Context, mode models.Mode) {
	if mode == c.state.Mode {
		return
	}
	prev := c.state.Mode
	c.stopPulse()
	stopTimer(c.setupTimer)
	c.state.Mode = mode
	c.state.PendingSetup = false
	if prev == models.ModeFlush {
		// 离开冲灌：标志灭、计时撤，无条件
		c.setFlushActive(ctx, false)
		if err := c.timers.Cancel(ctx, c.ref.Paddock, c.ref.Bay, models.TimerFlushTimeOnWater); err != nil {
			c.logger.Warn("Failed to cancel flush countdown",
				zap.String("bay", c.ref.String()), zap.Error(err))
		}
	}
	switch mode {
	case models.ModeFlush, models.ModePond:
		// 进场动作防抖：操作员连续换挡只认最后一次
		c.state.PendingSetup = true
		c.armSetup()
	}
	c.persist(ctx)
	c.publisher.PublishBayMode(c.ref, mode)
	c.reportMode(mode)
	c.logger.Info("Bay mode changed",
		zap.String("bay", c.ref.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(mode)))
	c.evaluate(ctx)
}

// runSetup 进场动作：防抖到点后执行一次，随后立即走一轮决策
func (c *BayController) runSetup(ctx context.Context) {
	if !c.state.PendingSetup {
		return
	}
	c.state.PendingSetup = false
	act := SetupFor(c.state.Mode, c.last)
	if act.FlushActive {
		c.setFlushActive(ctx, true)
	}
	if act.OwnSupply != nil {
		c.commandOwnSupply(ctx, *act.OwnSupply)
	}
	if act.DownstreamDrain != nil {
		c.routeDoor(ctx, c.drainKey, *act.DownstreamDrain)
	}
	c.persist(ctx)
	if act.Notice != "" {
		c.notice(ctx, act.Notice, nil)
	}
	c.logger.Info("Mode entry actions applied",
		zap.String("bay", c.ref.String()),
		zap.String("mode", string(c.state.Mode)))
	c.evaluate(ctx)
}

// evaluate 一轮决策：解析水深、查决策表、下发闸门指令。
// 进场动作未执行前不决策（冲灌标志未亮时会误入收尾分支）。
func (c *BayController) evaluate(ctx context.Context) {
	// 防卫不变式：冲灌标志只在冲灌模式为真
	if c.state.Mode != models.ModeFlush && c.state.FlushActive {
		c.setFlushActive(ctx, false)
	}
	if c.state.PendingSetup {
		return
	}
	depth := c.resolveDepth(ctx)
	c.publishDepth(depth)
	switch c.state.Mode {
	case models.ModeDrain:
		c.evaluateDrain(ctx, depth)
	case models.ModeFlush, models.ModePond:
		in := EvalInput{
			Mode:            c.state.Mode,
			FlushActive:     c.state.FlushActive,
			Depth:           depth,
			DepthMin:        c.state.DepthMin,
			DepthMax:        c.state.DepthMax,
			FirstBay:        c.first,
			LastBay:         c.last,
			DownstreamFlush: c.downstream.Active(),
		}
		if c.first && c.state.Mode == models.ModePond {
			in.ChannelDepth = c.depth.Channel(ctx, c.ref.Paddock, c.state.DepthOffset)
		}
		c.applyDecision(ctx, Evaluate(in), depth)
	}
	c.manageQualify(ctx, depth)
}

func (c *BayController) applyDecision(ctx context.Context, dec Decision, depth models.Depth) {
	if dec.OwnSupply != nil {
		c.commandOwnSupply(ctx, *dec.OwnSupply)
	}
	if dec.DownstreamDrain != nil {
		c.routeDoor(ctx, c.drainKey, *dec.DownstreamDrain)
	}
	if dec.Notice != "" {
		c.notice(ctx, dec.Notice, c.depthSnapshot(depth))
	}
	if dec.NextMode != nil && *dec.NextMode != c.state.Mode {
		c.applyModeChange(ctx, *dec.NextMode)
	}
}

// evaluateDrain 排水一轮。脉冲流程在跑时由它掌闸；
// 水已排净则敞开排水闸收场。
func (c *BayController) evaluateDrain(ctx context.Context, depth models.Depth) {
	if c.pulseCancel != nil {
		return
	}
	if EvaluateDrain(depth) == DrainStepDone {
		c.routeDoor(ctx, c.drainKey, models.DoorOpen)
		return
	}
	c.startPulse(ctx)
}

func (c *BayController) startPulse(ctx context.Context) {
	pctx, cancel := context.WithCancel(ctx)
	c.pulseCancel = cancel
	c.pulseDone = make(chan struct{})
	go c.runPulse(pctx, c.pulseDone, c.state.DepthOffset)
	c.logger.Info("Drain pulse loop started", zap.String("bay", c.ref.String()))
}

// stopPulse 撤销脉冲流程并等它退净。没在跑时直接返回。
func (c *BayController) stopPulse() {
	if c.pulseCancel == nil {
		return
	}
	c.pulseCancel()
	<-c.pulseDone
	c.pulseCancel = nil
	c.pulseDone = nil
}

// runPulse 排水脉冲流程：开闸一个短脉冲，关闸等完整个间歇，再看水深；
// 水深不可用的轮次不开闸只等待。模式或阈值变更会整体撤销本流程重建，
// 不续用旧循环。
func (c *BayController) runPulse(ctx context.Context, done chan struct{}, offset float64) {
	defer close(done)
	for {
		depth := c.depth.Resolve(ctx, c.ref, offset)
		step := EvaluateDrain(depth)
		if step == DrainStepDone {
			c.routeDoor(ctx, c.drainKey, models.DoorOpen)
			c.logger.Info("Bay drained, leaving drain door open", zap.String("bay", c.ref.String()))
			return
		}
		if step == DrainStepPulse {
			c.routeDoor(ctx, c.drainKey, models.DoorOpen)
			interrupted := !sleepCtx(ctx, c.timing.DrainPulseBurst)
			// 脉冲成对：开过必关，哪怕中途被撤销
			c.closeDrainAfterBurst()
			if interrupted {
				return
			}
		}
		if !sleepCtx(ctx, c.timing.DrainPulseCooldown) {
			return
		}
	}
}

// closeDrainAfterBurst 脉冲收口。用独立的短时限上下文，
// 撤销中的流程也要把闸关回去。
func (c *BayController) closeDrainAfterBurst() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.routeDoor(ctx, c.drainKey, models.DoorClose)
}

// onDepth 水深来源设备有新读数：维护上水资格窗口，跨越阈值边界才触发决策
func (c *BayController) onDepth(ctx context.Context) {
	depth := c.resolveDepth(ctx)
	prev := c.lastDepth
	c.lastDepth = depth
	c.publishDepth(depth)
	c.manageQualify(ctx, depth)
	if crossedThreshold(prev, depth, c.state.DepthMin, c.state.DepthMax) {
		c.evaluate(ctx)
	}
}

// applyThresholds 阈值修改立即入账，物理动作压到落定防抖之后
func (c *BayController) applyThresholds(ctx context.Context, u models.ThresholdUpdate) {
	changed := false
	if u.DepthMin != nil && *u.DepthMin != c.state.DepthMin {
		c.state.DepthMin = *u.DepthMin
		changed = true
	}
	if u.DepthMax != nil && *u.DepthMax != c.state.DepthMax {
		c.state.DepthMax = *u.DepthMax
		changed = true
	}
	if u.DepthOffset != nil && *u.DepthOffset != c.state.DepthOffset {
		c.state.DepthOffset = *u.DepthOffset
		changed = true
	}
	if u.FlushHoldMinutes != nil && *u.FlushHoldMinutes > 0 && *u.FlushHoldMinutes != c.state.FlushHoldMinutes {
		// 在跑的冲灌计时不重排，下次启动生效
		c.state.FlushHoldMinutes = *u.FlushHoldMinutes
		changed = true
	}
	if !changed {
		return
	}
	c.persist(ctx)
	c.logger.Info("Bay thresholds updated",
		zap.String("bay", c.ref.String()),
		zap.Float64("depth_min", c.state.DepthMin),
		zap.Float64("depth_max", c.state.DepthMax),
		zap.Float64("depth_offset", c.state.DepthOffset),
		zap.Int("flush_hold_minutes", c.state.FlushHoldMinutes))
	c.threshArmed = true
	resetTimer(&c.threshTimer, c.timing.ThresholdDebounce)
}

// onThresholdsSettled 阈值落定：排水流程按新偏移重建，其余模式重评估
func (c *BayController) onThresholdsSettled(ctx context.Context) {
	if !c.threshArmed {
		return
	}
	c.threshArmed = false
	if c.state.Mode == models.ModeDrain {
		c.stopPulse()
	}
	c.evaluate(ctx)
}

// manageQualify 维护冲灌上水资格窗口：水深连续高于下限满一个窗口才算上水。
// 中途跌回下限窗口清零，爬回后重开；已计入的联动计时保持不动。
func (c *BayController) manageQualify(ctx context.Context, depth models.Depth) {
	if c.state.Mode != models.ModeFlush || !c.state.FlushActive {
		c.cancelQualify()
		return
	}
	above := depth.Available && depth.Value > c.state.DepthMin
	if !above {
		c.cancelQualify()
		return
	}
	if c.qualifyArmed || c.qualified {
		return
	}
	c.qualifyArmed = true
	resetTimer(&c.qualifyTimer, c.timing.FlushQualify)
}

func (c *BayController) cancelQualify() {
	c.qualifyArmed = false
	c.qualified = false
	stopTimer(c.qualifyTimer)
}

// onQualified 资格窗口到点：确认仍在线上后启动（或重置）冲灌联动计时
func (c *BayController) onQualified(ctx context.Context) {
	if !c.qualifyArmed {
		return
	}
	c.qualifyArmed = false
	if c.state.Mode != models.ModeFlush || !c.state.FlushActive {
		return
	}
	depth := c.resolveDepth(ctx)
	if !depth.Available || depth.Value <= c.state.DepthMin {
		return
	}
	c.qualified = true
	hold := time.Duration(c.state.FlushHoldMinutes) * time.Minute
	if err := c.timers.Start(ctx, c.ref.Paddock, c.ref.Bay, models.TimerFlushTimeOnWater, hold, c.OnTimerFired); err != nil {
		c.logger.Error("Failed to start flush countdown",
			zap.String("bay", c.ref.String()), zap.Error(err))
		c.qualified = false
	}
}

// onCountdown 倒计时到点。冲灌计时到点灭标志并立即走一轮决策：
// 下游空闲时收尾分支会敞开排水并把模式归位，下游占用时挂起等待。
func (c *BayController) onCountdown(ctx context.Context, purpose string) {
	switch purpose {
	case models.TimerFlushTimeOnWater:
		if c.state.Mode != models.ModeFlush {
			return
		}
		c.logger.Info("Flush hold countdown expired", zap.String("bay", c.ref.String()))
		c.setFlushActive(ctx, false)
		if c.expiryListener != nil {
			c.expiryListener(c.ref)
		}
		c.evaluate(ctx)
	default:
		c.logger.Warn("Unknown countdown purpose",
			zap.String("bay", c.ref.String()),
			zap.String("purpose", purpose))
	}
}

// setFlushActive 冲灌标志写入：同步标志板、保留发布、持久化
func (c *BayController) setFlushActive(ctx context.Context, active bool) {
	if c.state.FlushActive == active {
		return
	}
	c.state.FlushActive = active
	c.flag.Set(active)
	c.publisher.PublishFlushActive(c.ref, active)
	c.persist(ctx)
	if !active {
		c.cancelQualify()
	}
}

func (c *BayController) commandOwnSupply(ctx context.Context, target models.DoorState) {
	c.routeDoor(ctx, c.supplyKey, target)
	if c.state.DoorState != target {
		c.state.DoorState = target
		c.persist(ctx)
	}
}

// routeDoor 下发闸门指令。失败只记日志不重试，周期评估会再下一次。
func (c *BayController) routeDoor(ctx context.Context, key models.ControlPointKey, target models.DoorState) {
	if err := c.router.Apply(ctx, key, target); err != nil {
		c.logger.Error("Failed to route door command",
			zap.String("point", key.String()),
			zap.String("target", string(target)),
			zap.Error(err))
	}
}

func (c *BayController) resolveDepth(ctx context.Context) models.Depth {
	return c.depth.Resolve(ctx, c.ref, c.state.DepthOffset)
}

// publishDepth 保留发布水深，值没变不重发
func (c *BayController) publishDepth(depth models.Depth) {
	if c.lastPublished != nil && depthEqual(*c.lastPublished, depth) {
		return
	}
	d := depth
	c.lastPublished = &d
	c.publisher.PublishDepth(c.ref, depth)
}

func (c *BayController) persist(ctx context.Context) {
	if err := c.runtime.Save(ctx, c.ref, &c.state); err != nil {
		c.logger.Error("Failed to persist bay runtime",
			zap.String("bay", c.ref.String()), zap.Error(err))
	}
}

func (c *BayController) reportMode(mode models.Mode) {
	if c.modeListener != nil {
		c.modeListener(c.ref, mode)
	}
}

func (c *BayController) notice(ctx context.Context, eventType string, data map[string]interface{}) {
	severity := models.SeverityNotice
	message := eventType
	switch eventType {
	case models.EventFlushingStarted:
		severity, message = models.SeverityInfo, "Flushing started"
	case models.EventFillingStarted:
		severity, message = models.SeverityInfo, "Filling started"
	case models.EventWaitingForWater:
		message = "Waiting for downstream bay to finish flushing"
	case models.EventLowSupply:
		message = "Supply channel level below bay water level"
	case models.EventFlushFinished:
		severity, message = models.SeverityInfo, "Flushing finished, bay returned to off"
	}
	event := models.ControlEvent{
		PaddockSlug: c.ref.Paddock,
		BayName:     c.name,
		EventType:   eventType,
		Severity:    severity,
		Message:     message,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			event.EventData = string(raw)
		}
	}
	c.notifier.Notify(ctx, event)
}

// depthSnapshot 事件快照：当时的水深与生效阈值
func (c *BayController) depthSnapshot(depth models.Depth) map[string]interface{} {
	snap := map[string]interface{}{
		"depth_min": c.state.DepthMin,
		"depth_max": c.state.DepthMax,
	}
	if depth.Available {
		snap["depth"] = depth.Value
	}
	return snap
}

func (c *BayController) armSetup() {
	resetTimer(&c.setupTimer, c.timing.SetupDelay)
}

func depthEqual(a, b models.Depth) bool {
	if a.Available != b.Available {
		return false
	}
	return !a.Available || a.Value == b.Value
}

// timerC 空表安全取信道：select 对 nil 信道永不就绪
func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// resetTimer 重置（或首建）一次性计时器，旧值先停净
func resetTimer(t **time.Timer, d time.Duration) {
	if *t == nil {
		*t = time.NewTimer(d)
		return
	}
	stopTimer(*t)
	(*t).Reset(d)
}

// stopTimer 停表并吸干未读的到点信号；仅事件循环goroutine可调
func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// sleepCtx 可撤销睡眠；返回是否睡满
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
