package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/consumer"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

type routedCall struct {
	key    models.ControlPointKey
	target models.DoorState
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []routedCall
}

func (r *fakeRouter) Apply(ctx context.Context, key models.ControlPointKey, target models.DoorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, routedCall{key: key, target: target})
	return nil
}

func (r *fakeRouter) has(key models.ControlPointKey, target models.DoorState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.key == key && c.target == target {
			return true
		}
	}
	return false
}

func (r *fakeRouter) count(key models.ControlPointKey, target models.DoorState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.key == key && c.target == target {
			n++
		}
	}
	return n
}

func (r *fakeRouter) last(key models.ControlPointKey) (models.DoorState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].key == key {
			return r.calls[i].target, true
		}
	}
	return "", false
}

func (r *fakeRouter) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.ControlEvent
}

func (n *fakeNotifier) Notify(ctx context.Context, event models.ControlEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) has(eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type fakePublisher struct {
	mu     sync.Mutex
	modes  []models.Mode
	flags  []bool
	depths []models.Depth
}

func (p *fakePublisher) PublishBayMode(ref models.BayRef, mode models.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes = append(p.modes, mode)
}

func (p *fakePublisher) PublishFlushActive(ref models.BayRef, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags = append(p.flags, active)
}

func (p *fakePublisher) PublishDepth(ref models.BayRef, depth models.Depth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.depths = append(p.depths, depth)
}

func (p *fakePublisher) lastMode() (models.Mode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.modes) == 0 {
		return "", false
	}
	return p.modes[len(p.modes)-1], true
}

func (p *fakePublisher) lastFlag() (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.flags) == 0 {
		return false, false
	}
	return p.flags[len(p.flags)-1], true
}

// bayBench 单格田控制器的测试台：三格田的sw5拓扑 + miniredis + 假路由
type bayBench struct {
	mr       *miniredis.Miniredis
	cache    *consumer.CacheManager
	runtime  *RuntimeStore
	timers   *TimerStore
	board    *FlagBoard
	handles  map[int]*FlagHandle
	router   *fakeRouter
	notifier *fakeNotifier
	pub      *fakePublisher
	reg      *topology.Registry
}

func newBayBench(t *testing.T) *bayBench {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := topology.NewRegistry()
	reg.Upsert(&models.Paddock{
		Slug:        "sw5",
		DisplayName: "SW 5",
		Enabled:     true,
		Bays: []models.BayEntry{
			{Name: "B-01", Number: 1, Device: "padman_101"},
			{Name: "B-02", Number: 2, Device: "padman_102"},
			{Name: "B-03", Number: 3, Device: "padman_103"},
		},
		Drain: models.DrainEntry{Name: "B-03 Drain", Device: "padman_104"},
	})

	board := NewFlagBoard()
	handles := make(map[int]*FlagHandle)
	for n := 1; n <= 3; n++ {
		handles[n] = board.Register(models.BayRef{Paddock: "sw5", Bay: n})
	}

	timers := NewTimerStore("paddisense:pwm:", client, zap.NewNop())
	t.Cleanup(timers.StopAll)

	return &bayBench{
		mr:       mr,
		cache:    consumer.NewCacheManager("paddisense:pwm:", time.Hour, client, zap.NewNop()),
		runtime:  NewRuntimeStore("paddisense:pwm:", client, zap.NewNop()),
		timers:   timers,
		board:    board,
		handles:  handles,
		router:   &fakeRouter{},
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		reg:      reg,
	}
}

func quickTiming() Timing {
	return Timing{
		EvaluateInterval:   10 * time.Second, // 测试不靠周期兜底
		SetupDelay:         20 * time.Millisecond,
		ThresholdDebounce:  30 * time.Millisecond,
		FlushQualify:       40 * time.Millisecond,
		DrainPulseBurst:    15 * time.Millisecond,
		DrainPulseCooldown: 25 * time.Millisecond,
	}
}

func (b *bayBench) newController(t *testing.T, bay int) *BayController {
	t.Helper()
	ref := models.BayRef{Paddock: "sw5", Bay: bay}
	last := bay == 3
	drainKey := models.ControlPointKey{Paddock: "sw5", Bay: bay + 1, Role: models.RoleSupply}
	downstream := FlushFlag(NoDownstream)
	if last {
		drainKey = models.ControlPointKey{Paddock: "sw5", Bay: bay, Role: models.RoleDrain}
	} else {
		downstream = b.board.Flag(models.BayRef{Paddock: "sw5", Bay: bay + 1})
	}
	cfg := BayConfig{
		Ref:       ref,
		Name:      fmt.Sprintf("B-%02d", bay),
		First:     bay == 1,
		Last:      last,
		SupplyKey: models.ControlPointKey{Paddock: "sw5", Bay: bay, Role: models.RoleSupply},
		DrainKey:  drainKey,
		Defaults:  models.BaySettings{DepthMin: -2.0, DepthMax: 1.0, DepthOffset: 0, FlushHoldMinutes: 240},
		Timing:    quickTiming(),
	}
	return NewBayController(cfg, Deps{
		Runtime:    b.runtime,
		Depth:      NewDepthResolver(b.cache, b.reg),
		Timers:     b.timers,
		Flag:       b.handles[bay],
		Downstream: downstream,
		Router:     b.router,
		Notifier:   b.notifier,
		Publisher:  b.pub,
		Logger:     zap.NewNop(),
	})
}

func (b *bayBench) setDepth(t *testing.T, bay int, value float64) {
	t.Helper()
	device, ok := b.reg.DepthDeviceFor("sw5", bay)
	require.True(t, ok)
	err := b.cache.SetReading(context.Background(), device, models.Reading{
		Value:     value,
		Available: true,
		Timestamp: time.Now().Unix(),
	})
	require.NoError(t, err)
}

func startController(t *testing.T, c *BayController) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.done
	})
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestBayController_FlushEntryAddsWater(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, -3.0) // 低于下限
	c := b.newController(t, 1)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeFlush))

	supply := models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleSupply}
	drain := models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSupply}

	eventually(t, func() bool {
		f, ok := b.pub.lastFlag()
		return ok && f
	}, "flush_active not published")
	eventually(t, func() bool { return b.router.has(drain, models.DoorClose) }, "downstream drain not closed")
	eventually(t, func() bool { return b.router.has(supply, models.DoorOpen) }, "own supply not opened")
	eventually(t, func() bool { return b.notifier.has(models.EventFlushingStarted) }, "flushing_started missing")

	rt, err := b.runtime.Load(context.Background(), models.BayRef{Paddock: "sw5", Bay: 1})
	require.NoError(t, err)
	assert.Equal(t, models.ModeFlush, rt.Mode)
	assert.True(t, rt.FlushActive)
}

func TestBayController_FlushReleasesAboveMax(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 2.0) // 高于上限
	c := b.newController(t, 1)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeFlush))

	drain := models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSupply}
	eventually(t, func() bool {
		last, ok := b.router.last(drain)
		return ok && last == models.DoorOpen
	}, "downstream drain not released")

	supply := models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleSupply}
	assert.False(t, b.router.has(supply, models.DoorOpen))
}

func TestBayController_FlushWaitsOnDownstream(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0)
	b.handles[2].Set(true) // 下游冲灌中
	c := b.newController(t, 1)
	b.board.Watch(models.BayRef{Paddock: "sw5", Bay: 2}, c.OnNeighborFlush)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeFlush))

	eventually(t, func() bool { return b.notifier.has(models.EventWaitingForWater) }, "waiting notice missing")
	supply := models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleSupply}
	assert.False(t, b.router.has(supply, models.DoorOpen), "supply must stay put while downstream flushes")

	// 下游收场：让行结束，立即补水
	b.handles[2].Set(false)
	eventually(t, func() bool { return b.router.has(supply, models.DoorOpen) }, "supply not opened after downstream cleared")
}

func TestBayController_FlushFinishReturnsOff(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0)
	c := b.newController(t, 1)

	expired := make(chan models.BayRef, 1)
	c.SetFlushExpiryListener(func(ref models.BayRef) { expired <- ref })
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeFlush))
	eventually(t, func() bool {
		f, ok := b.pub.lastFlag()
		return ok && f
	}, "flush_active not set")

	// 联动计时到点
	c.OnTimerFired(models.CountdownRecord{Paddock: "sw5", Bay: 1, Purpose: models.TimerFlushTimeOnWater})

	drain := models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSupply}
	eventually(t, func() bool {
		m, ok := b.pub.lastMode()
		return ok && m == models.ModeOff
	}, "mode not returned to off")
	eventually(t, func() bool {
		last, ok := b.router.last(drain)
		return ok && last == models.DoorOpen
	}, "drain not opened on finish")
	eventually(t, func() bool { return b.notifier.has(models.EventFlushFinished) }, "flush_finished missing")

	select {
	case ref := <-expired:
		assert.Equal(t, models.BayRef{Paddock: "sw5", Bay: 1}, ref)
	case <-time.After(time.Second):
		t.Fatal("expiry listener not invoked")
	}

	rt, err := b.runtime.Load(context.Background(), models.BayRef{Paddock: "sw5", Bay: 1})
	require.NoError(t, err)
	assert.Equal(t, models.ModeOff, rt.Mode)
	assert.False(t, rt.FlushActive)
}

func TestBayController_PondBandControl(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 3, 0.0) // 区间内
	c := b.newController(t, 3)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModePond))

	supply := models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleSupply}
	drain := models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleDrain}

	// 进场：开进水，末位格田关排水
	eventually(t, func() bool { return b.router.has(supply, models.DoorOpen) }, "supply not opened on entry")
	eventually(t, func() bool { return b.router.has(drain, models.DoorClose) }, "own drain not closed on entry")
	eventually(t, func() bool { return b.notifier.has(models.EventFillingStarted) }, "filling_started missing")

	// 跌破下限：再开进水
	before := b.router.count(supply, models.DoorOpen)
	b.setDepth(t, 3, -2.5)
	c.OnReading("padman_104", models.Reading{})
	eventually(t, func() bool { return b.router.count(supply, models.DoorOpen) > before }, "supply not re-opened below min")

	// 冲破上限：开排水放水
	b.setDepth(t, 3, 1.5)
	c.OnReading("padman_104", models.Reading{})
	eventually(t, func() bool {
		last, ok := b.router.last(drain)
		return ok && last == models.DoorOpen
	}, "drain not opened above max")
}

func TestBayController_PondLowSupplyNotice(t *testing.T) {
	b := newBayBench(t)
	ctx := context.Background()
	// 渠水位（首格田站点）低于首格田自身水深
	require.NoError(t, b.cache.SetReading(ctx, "padman_101", models.Reading{Value: 0.2, Available: true}))
	require.NoError(t, b.cache.SetReading(ctx, "padman_102", models.Reading{Value: 0.5, Available: true}))

	c := b.newController(t, 1)
	startController(t, c)
	require.NoError(t, c.SetMode(ctx, models.ModePond))

	eventually(t, func() bool { return b.notifier.has(models.EventLowSupply) }, "low_supply missing")
}

func TestBayController_DrainPulsesUntilEmpty(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0)
	c := b.newController(t, 1)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeDrain))

	drain := models.ControlPointKey{Paddock: "sw5", Bay: 2, Role: models.RoleSupply}
	eventually(t, func() bool {
		return b.router.count(drain, models.DoorOpen) >= 2 && b.router.count(drain, models.DoorClose) >= 2
	}, "pulse cycles not observed")

	// 水排净：敞开排水闸收场
	b.setDepth(t, 1, -9.0)
	eventually(t, func() bool {
		last, ok := b.router.last(drain)
		return ok && last == models.DoorOpen
	}, "drain not left open when empty")

	m, ok := b.pub.lastMode()
	require.True(t, ok)
	assert.Equal(t, models.ModeDrain, m, "drain mode must persist after emptying")
}

func TestBayController_DrainHoldsWithoutTelemetry(t *testing.T) {
	b := newBayBench(t)
	c := b.newController(t, 2) // 没有任何读数
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeDrain))

	time.Sleep(120 * time.Millisecond) // 约三个脉冲周期
	drain := models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleSupply}
	assert.False(t, b.router.has(drain, models.DoorOpen), "must not open drain blind")
}

func TestBayController_ThresholdUpdateDebounced(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0)
	c := b.newController(t, 1)
	startController(t, c)

	ctx := context.Background()
	require.NoError(t, c.SetMode(ctx, models.ModePond))
	supply := models.ControlPointKey{Paddock: "sw5", Bay: 1, Role: models.RoleSupply}
	eventually(t, func() bool { return b.router.has(supply, models.DoorOpen) }, "entry open missing")

	// 抬高下限使当前水深显得过浅；动作要等落定防抖
	newMin := 0.5
	before := b.router.count(supply, models.DoorOpen)
	require.NoError(t, c.UpdateThresholds(ctx, models.ThresholdUpdate{DepthMin: &newMin}))
	assert.Equal(t, before, b.router.count(supply, models.DoorOpen), "acted before debounce settled")

	eventually(t, func() bool { return b.router.count(supply, models.DoorOpen) > before }, "no re-evaluation after debounce")

	rt, err := b.runtime.Load(ctx, models.BayRef{Paddock: "sw5", Bay: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.5, rt.DepthMin)
}

func TestBayController_QualifyStartsAndRestartsCountdown(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0) // 高于下限
	c := b.newController(t, 1)
	startController(t, c)

	require.NoError(t, c.SetMode(context.Background(), models.ModeFlush))

	key := "paddisense:pwm:timer:sw5:1:flush_time_on_water"
	eventually(t, func() bool {
		for _, k := range b.mr.Keys() {
			if k == key {
				return true
			}
		}
		return false
	}, "flush countdown not started after qualify window")

	// 跌回下限不撤销在跑的计时
	b.setDepth(t, 1, -2.5)
	c.OnReading("padman_102", models.Reading{})
	time.Sleep(80 * time.Millisecond)
	assert.Contains(t, b.mr.Keys(), key)
}

func TestBayController_LeavingFlushCancelsCountdown(t *testing.T) {
	b := newBayBench(t)
	b.setDepth(t, 1, 0.0)
	c := b.newController(t, 1)
	startController(t, c)

	ctx := context.Background()
	require.NoError(t, c.SetMode(ctx, models.ModeFlush))

	key := "paddisense:pwm:timer:sw5:1:flush_time_on_water"
	eventually(t, func() bool {
		for _, k := range b.mr.Keys() {
			if k == key {
				return true
			}
		}
		return false
	}, "countdown not started")

	require.NoError(t, c.SetMode(ctx, models.ModeOff))
	eventually(t, func() bool {
		for _, k := range b.mr.Keys() {
			if k == key {
				return false
			}
		}
		f, ok := b.pub.lastFlag()
		return ok && !f
	}, "countdown not cancelled or flag not cleared on leaving flush")
}

func TestBayController_RestoresPersistedState(t *testing.T) {
	b := newBayBench(t)
	ctx := context.Background()
	ref := models.BayRef{Paddock: "sw5", Bay: 1}
	require.NoError(t, b.runtime.Save(ctx, ref, &models.BayRuntime{
		Mode:             models.ModePond,
		DoorState:        models.DoorOpen,
		DepthMin:         -1.0,
		DepthMax:         0.5,
		FlushHoldMinutes: 120,
	}))
	b.setDepth(t, 1, 0.0) // 恢复后区间内，无须动作

	c := b.newController(t, 1)
	modes := make(chan models.Mode, 4)
	c.SetModeListener(func(_ models.BayRef, m models.Mode) { modes <- m })
	startController(t, c)

	eventually(t, func() bool {
		m, ok := b.pub.lastMode()
		return ok && m == models.ModePond
	}, "restored mode not published")

	select {
	case m := <-modes:
		assert.Equal(t, models.ModePond, m)
	case <-time.After(time.Second):
		t.Fatal("mode listener not invoked on restore")
	}

	// 进场动作早已执行过，恢复时不得重放
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, b.router.total(), "restore must not replay entry actions")
}
