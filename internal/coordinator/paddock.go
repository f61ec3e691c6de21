// Package coordinator 田块级编排。
// 职责：
// 1. 田块模式广播（individual 配置下不下发）
// 2. 格田模式汇总：全部回到 off 时自动复位田块模式
// 3. 第二格田冲灌结束后的关渠提醒倒计时
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/consumer"
	"github.com/PKmac78/paddisense-release/internal/controller"
	"github.com/PKmac78/paddisense-release/internal/models"
)

// PaddockPublisher 田块模式retained状态发布
type PaddockPublisher interface {
	PublishPaddockMode(slug string, mode models.Mode)
}

// BayHandle 协调器可见的格田控制器侧面（controller.BayController 实现）
type BayHandle interface {
	Ref() models.BayRef
	SetMode(ctx context.Context, mode models.Mode) error
	SetModeListener(fn func(ref models.BayRef, mode models.Mode))
	SetFlushExpiryListener(fn func(ref models.BayRef))
}

// Config 田块协调器配置
type Config struct {
	Slug       string
	Name       string
	Individual bool // true 时格田独立运行，田块模式不下发
	SecondBay  int  // 关渠提醒锚点格田编号，0 表示无（单格田）

	CloseSupplyDelay time.Duration
}

// PaddockCoordinator 田块协调器
type PaddockCoordinator struct {
	cfg       Config
	bays      []BayHandle
	cache     *consumer.CacheManager
	timers    *controller.TimerStore
	notifier  controller.Notifier
	publisher PaddockPublisher
	logger    *zap.Logger

	mu       sync.Mutex
	mode     models.Mode
	bayModes map[int]models.Mode
}

// NewPaddockCoordinator 创建田块协调器并挂接格田回调（控制器 Run 前调用）。
func NewPaddockCoordinator(
	cfg Config,
	bays []BayHandle,
	cache *consumer.CacheManager,
	timers *controller.TimerStore,
	notifier controller.Notifier,
	publisher PaddockPublisher,
	logger *zap.Logger,
) *PaddockCoordinator {
	p := &PaddockCoordinator{
		cfg:       cfg,
		bays:      bays,
		cache:     cache,
		timers:    timers,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		mode:      models.ModeOff,
		bayModes:  make(map[int]models.Mode),
	}
	for _, bay := range bays {
		bay.SetModeListener(p.OnBayMode)
		bay.SetFlushExpiryListener(p.OnFlushExpired)
	}
	return p
}

// Slug 田块slug
func (p *PaddockCoordinator) Slug() string {
	return p.cfg.Slug
}

// Mode 当前田块模式
func (p *PaddockCoordinator) Mode() models.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Restore 恢复持久化的田块模式并重新发布 retained 状态。
func (p *PaddockCoordinator) Restore(ctx context.Context) {
	mode, err := p.cache.GetPaddockMode(ctx, p.cfg.Slug)
	if err != nil {
		if !errors.Is(err, consumer.ErrCacheMiss) {
			p.logger.Warn("Failed to restore paddock mode, defaulting to off",
				zap.String("paddock", p.cfg.Slug),
				zap.Error(err),
			)
		}
		mode = models.ModeOff
	}

	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()

	p.publisher.PublishPaddockMode(p.cfg.Slug, mode)
	p.logger.Info("Paddock mode restored",
		zap.String("paddock", p.cfg.Slug),
		zap.String("mode", string(mode)),
	)
}

// SetPaddockMode 设置田块模式并（非独立配置下）顺序广播到所有格田。
// 单个格田下发失败只记日志，不回滚已下发的格田。
func (p *PaddockCoordinator) SetPaddockMode(ctx context.Context, mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return fmt.Errorf("invalid paddock mode: %w", err)
	}

	p.mu.Lock()
	p.mode = mode
	// 新一轮下发，上一轮的格田上报作废
	p.bayModes = make(map[int]models.Mode)
	p.mu.Unlock()

	if err := p.cache.SetPaddockMode(ctx, p.cfg.Slug, mode); err != nil {
		p.logger.Error("Failed to persist paddock mode",
			zap.String("paddock", p.cfg.Slug),
			zap.Error(err),
		)
	}
	p.publisher.PublishPaddockMode(p.cfg.Slug, mode)

	p.logger.Info("Paddock mode set",
		zap.String("paddock", p.cfg.Slug),
		zap.String("mode", string(mode)),
		zap.Bool("individual", p.cfg.Individual),
	)

	if p.cfg.Individual {
		return nil
	}

	for _, bay := range p.bays {
		if err := bay.SetMode(ctx, mode); err != nil {
			p.logger.Error("Failed to propagate paddock mode to bay",
				zap.String("bay", bay.Ref().String()),
				zap.String("mode", string(mode)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// OnBayMode 格田模式上报。全部格田回到 off 且田块模式不是 off 时自动复位。
// 独立配置下田块模式与格田脱钩，不复位。
func (p *PaddockCoordinator) OnBayMode(ref models.BayRef, mode models.Mode) {
	p.mu.Lock()
	p.bayModes[ref.Bay] = mode

	reset := !p.cfg.Individual &&
		p.mode != models.ModeOff &&
		len(p.bayModes) == len(p.bays)
	if reset {
		for _, m := range p.bayModes {
			if m != models.ModeOff {
				reset = false
				break
			}
		}
	}
	if reset {
		p.mode = models.ModeOff
	}
	p.mu.Unlock()

	if !reset {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cache.SetPaddockMode(ctx, p.cfg.Slug, models.ModeOff); err != nil {
		p.logger.Error("Failed to persist paddock mode",
			zap.String("paddock", p.cfg.Slug),
			zap.Error(err),
		)
	}
	p.publisher.PublishPaddockMode(p.cfg.Slug, models.ModeOff)
	p.logger.Info("All bays idle, paddock mode reset to off",
		zap.String("paddock", p.cfg.Slug),
	)
}

// OnFlushExpired 格田冲灌计时到点上报。第二格田到点后启动关渠提醒倒计时。
func (p *PaddockCoordinator) OnFlushExpired(ref models.BayRef) {
	if p.cfg.SecondBay == 0 || ref.Bay != p.cfg.SecondBay {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.timers.Start(ctx, p.cfg.Slug, 0, models.TimerFlushCloseSupply, p.cfg.CloseSupplyDelay, p.OnTimerFired); err != nil {
		p.logger.Error("Failed to start close-supply countdown",
			zap.String("paddock", p.cfg.Slug),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("Close-supply countdown started",
		zap.String("paddock", p.cfg.Slug),
		zap.Duration("delay", p.cfg.CloseSupplyDelay),
	)
}

// OnTimerFired 田块级倒计时到点（调度触发或重启恢复分发）。
func (p *PaddockCoordinator) OnTimerFired(rec models.CountdownRecord) {
	if rec.Purpose != models.TimerFlushCloseSupply {
		p.logger.Warn("Unknown paddock countdown purpose",
			zap.String("paddock", p.cfg.Slug),
			zap.String("purpose", rec.Purpose),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 只提醒，从不自动关总进水闸。
	p.notifier.Notify(ctx, models.ControlEvent{
		PaddockSlug: p.cfg.Slug,
		EventType:   models.EventCloseSupplyDue,
		Severity:    models.SeverityNotice,
		Message:     "Flush water delivered, supply channel can be closed",
	})
}
