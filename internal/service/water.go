// Package service 服务装配层：配置 → 连接 → 拓扑 → 控制器/协调器 → 消费者。
package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/go-redis/redis/v8"

	"github.com/PKmac78/paddisense-release/common/database"
	mqttcommon "github.com/PKmac78/paddisense-release/common/mqtt"
	rediscommon "github.com/PKmac78/paddisense-release/common/redis"
	"github.com/PKmac78/paddisense-release/internal/config"
	"github.com/PKmac78/paddisense-release/internal/consumer"
	"github.com/PKmac78/paddisense-release/internal/controller"
	"github.com/PKmac78/paddisense-release/internal/coordinator"
	"github.com/PKmac78/paddisense-release/internal/generator"
	"github.com/PKmac78/paddisense-release/internal/models"
	"github.com/PKmac78/paddisense-release/internal/notify"
	"github.com/PKmac78/paddisense-release/internal/repository"
	"github.com/PKmac78/paddisense-release/internal/routing"
	"github.com/PKmac78/paddisense-release/internal/topology"
)

// WaterService PWM控制服务（整合各层）
type WaterService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	registry   *topology.Registry
	cache      *consumer.CacheManager
	runtime    *controller.RuntimeStore
	timers     *controller.TimerStore
	board      *controller.FlagBoard
	depths     *controller.DepthResolver
	router     *routing.DoorRouter
	eventsRepo *repository.ControlEventsRepository
	notifier   *notify.Notifier

	coordinators map[string]*coordinator.PaddockCoordinator
	controllers  map[models.BayRef]*controller.BayController

	telemetry *consumer.TelemetryConsumer
	doors     *consumer.DoorStateConsumer
	commands  *consumer.CommandConsumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWaterService 创建PWM控制服务
func NewWaterService(cfg *config.Config, logger *zap.Logger) (*WaterService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	// 4. 载入拓扑
	store := topology.NewStore(cfg.PWM.StorePath, logger)
	registry, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load topology: %w", err)
	}

	// 5. 基础组件
	prefix := cfg.PWM.Cache.KeyPrefix
	cache := consumer.NewCacheManager(prefix, cfg.PWM.Cache.ReadingTTL, redisClient, logger)
	runtime := controller.NewRuntimeStore(prefix, redisClient, logger)
	timers := controller.NewTimerStore(prefix, redisClient, logger)
	eventsRepo := repository.NewControlEventsRepository(db, logger)

	s := &WaterService{
		config:       cfg,
		logger:       logger,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		registry:     registry,
		cache:        cache,
		runtime:      runtime,
		timers:       timers,
		board:        controller.NewFlagBoard(),
		depths:       controller.NewDepthResolver(cache, registry),
		eventsRepo:   eventsRepo,
		coordinators: make(map[string]*coordinator.PaddockCoordinator),
		controllers:  make(map[models.BayRef]*controller.BayController),
	}
	s.router = routing.NewDoorRouter(registry, cache, mqttClient, cfg.MQTT.QoS, logger)
	s.notifier = notify.NewNotifier(eventsRepo, mqttClient, cfg.MQTT.QoS, cfg.PWM.Control.NoticeDedupWindow, logger)

	// 6. 消费者
	s.telemetry = consumer.NewTelemetryConsumer(mqttClient, cache, logger)
	s.doors = consumer.NewDoorStateConsumer(mqttClient, cache, logger)
	s.commands = consumer.NewCommandConsumer(mqttClient, s, logger)

	// 7. 每个启用田块装配协调器与格田控制器
	if err := s.buildPaddocks(); err != nil {
		return nil, err
	}

	return s, nil
}

// buildPaddocks 按拓扑装配启用田块：控制器、邻接冲灌观察、遥测监听、协调器。
func (s *WaterService) buildPaddocks() error {
	timing := controller.Timing{
		EvaluateInterval:   s.config.PWM.Control.EvaluateInterval,
		SetupDelay:         s.config.PWM.Control.SetupDelay,
		ThresholdDebounce:  s.config.PWM.Control.ThresholdDebounce,
		FlushQualify:       s.config.PWM.Control.FlushQualify,
		DrainPulseBurst:    s.config.PWM.Control.DrainPulseBurst,
		DrainPulseCooldown: s.config.PWM.Control.DrainPulseCooldown,
	}

	for _, slug := range s.registry.Slugs() {
		p, _ := s.registry.Paddock(slug)
		if !p.Enabled {
			s.logger.Info("Paddock disabled, skipping", zap.String("paddock", slug))
			continue
		}
		if len(p.Bays) == 0 {
			s.logger.Warn("Paddock has no bays, skipping", zap.String("paddock", slug))
			continue
		}

		lastNum := p.LastBayNumber()
		handles := make([]coordinator.BayHandle, 0, len(p.Bays))

		for i, b := range p.Bays {
			ref := models.BayRef{Paddock: slug, Bay: b.Number}
			cfg := controller.BayConfig{
				Ref:      ref,
				Name:     b.Name,
				First:    i == 0,
				Last:     b.Number == lastNum,
				Defaults: generator.DefaultBaySettings,
				Timing:   timing,
			}
			cfg.SupplyKey = models.ControlPointKey{Paddock: slug, Bay: b.Number, Role: models.RoleSupply}
			if cfg.Last {
				cfg.DrainKey = models.ControlPointKey{Paddock: slug, Bay: b.Number, Role: models.RoleDrain}
			} else {
				cfg.DrainKey = models.ControlPointKey{Paddock: slug, Bay: b.Number + 1, Role: models.RoleSupply}
			}

			// 配置单元提供初始参数与控制点键；缺失时用上面的拓扑推导
			unit, err := generator.LoadBayUnit(s.config.PWM.UnitsDir, slug, b.Name)
			switch {
			case err == nil:
				cfg.SupplyKey = unit.Keys.Supply
				cfg.DrainKey = unit.Keys.Drain
				cfg.Defaults = unit.Defaults
				cfg.Last = unit.Last
			case os.IsNotExist(err):
				s.logger.Debug("No bay unit file, using defaults",
					zap.String("bay", ref.String()))
			default:
				s.logger.Warn("Failed to load bay unit, using defaults",
					zap.String("bay", ref.String()),
					zap.Error(err))
			}

			deps := controller.Deps{
				Runtime:    s.runtime,
				Depth:      s.depths,
				Timers:     s.timers,
				Flag:       s.board.Register(ref),
				Downstream: controller.NoDownstream,
				Router:     s.router,
				Notifier:   s.notifier,
				Publisher:  s,
				Logger:     s.logger,
			}
			if !cfg.Last {
				deps.Downstream = s.board.Flag(models.BayRef{Paddock: slug, Bay: b.Number + 1})
			}

			c := controller.NewBayController(cfg, deps)
			s.controllers[ref] = c
			handles = append(handles, c)
		}

		// 邻接观察：下游格田冲灌标志翻转时唤醒本格田
		for _, b := range p.Bays {
			if b.Number == lastNum {
				continue
			}
			c := s.controllers[models.BayRef{Paddock: slug, Bay: b.Number}]
			s.board.Watch(models.BayRef{Paddock: slug, Bay: b.Number + 1}, c.OnNeighborFlush)
		}

		// 遥测监听：格田水深来源设备，首格田另加自身站点（渠水位）
		for _, b := range p.Bays {
			c := s.controllers[models.BayRef{Paddock: slug, Bay: b.Number}]
			if device, ok := s.registry.DepthDeviceFor(slug, b.Number); ok && models.IsBound(device) {
				s.telemetry.RegisterListener(device, c.OnReading)
			}
		}
		if first := s.controllers[models.BayRef{Paddock: slug, Bay: p.Bays[0].Number}]; first != nil {
			if device, ok := s.registry.ChannelDepthDeviceFor(slug); ok && models.IsBound(device) {
				s.telemetry.RegisterListener(device, first.OnReading)
			}
		}

		secondBay := 0
		if len(p.Bays) >= 2 {
			secondBay = p.Bays[1].Number
		}
		coord := coordinator.NewPaddockCoordinator(coordinator.Config{
			Slug:             slug,
			Name:             p.DisplayName,
			Individual:       p.Individual,
			SecondBay:        secondBay,
			CloseSupplyDelay: s.config.PWM.Control.CloseSupplyDelay,
		}, handles, s.cache, s.timers, s.notifier, s, s.logger)
		s.coordinators[slug] = coord

		s.logger.Info("Paddock assembled",
			zap.String("paddock", slug),
			zap.Int("bays", len(p.Bays)),
			zap.Bool("individual", p.Individual),
		)
	}

	return nil
}

// Start 启动服务：清理孤儿状态、恢复协调器与控制器、恢复倒计时、启动消费者。
func (s *WaterService) Start(ctx context.Context) error {
	s.logger.Info("Starting PWM service",
		zap.Int("paddocks", len(s.coordinators)),
		zap.Int("bays", len(s.controllers)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.sweepOrphanRuntime(ctx)

	for _, coord := range s.coordinators {
		coord.Restore(ctx)
	}

	for _, c := range s.controllers {
		ctrl := c
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctrl.Run(runCtx)
		}()
	}

	// 控制器已在消化触发，此刻恢复的倒计时可安全分发
	restored, err := s.timers.Restore(ctx, s.dispatchCountdown)
	if err != nil {
		s.logger.Warn("Countdown restore incomplete", zap.Error(err))
	} else if restored > 0 {
		s.logger.Info("Countdowns restored", zap.Int("count", restored))
	}

	consumers := []struct {
		name  string
		start func(context.Context) error
	}{
		{"telemetry", s.telemetry.Start},
		{"door state", s.doors.Start},
		{"command", s.commands.Start},
	}
	for _, c := range consumers {
		name, start := c.name, c.start
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := start(runCtx); err != nil {
				s.logger.Error("Consumer exited with error",
					zap.String("consumer", name),
					zap.Error(err))
			}
		}()
	}

	s.logger.Info("PWM service started")
	return nil
}

// Stop 停止服务：收回控制器与消费者，关闭连接。
// 持久化的倒计时记录保留，由下次启动恢复。
func (s *WaterService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PWM service")

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.timers.StopAll()

	if err := s.telemetry.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop telemetry consumer", zap.Error(err))
	}
	if err := s.doors.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop door state consumer", zap.Error(err))
	}
	if err := s.commands.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop command consumer", zap.Error(err))
	}

	s.mqttClient.Disconnect()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Error closing database connection", zap.Error(err))
	}

	s.logger.Info("PWM service stopped")
	return nil
}

// dispatchCountdown 重启恢复的倒计时到点后的分发：
// 田块级记录（bay 0）给协调器，其余给对应格田控制器。
func (s *WaterService) dispatchCountdown(rec models.CountdownRecord) {
	if rec.Bay == 0 {
		if coord, ok := s.coordinators[rec.Paddock]; ok {
			coord.OnTimerFired(rec)
			return
		}
		s.logger.Warn("Countdown for unknown paddock dropped",
			zap.String("paddock", rec.Paddock),
			zap.String("purpose", rec.Purpose))
		return
	}

	ref := models.BayRef{Paddock: rec.Paddock, Bay: rec.Bay}
	if c, ok := s.controllers[ref]; ok {
		c.OnTimerFired(rec)
		return
	}
	s.logger.Warn("Countdown for unknown bay dropped",
		zap.String("bay", ref.String()),
		zap.String("purpose", rec.Purpose))
}

// sweepOrphanRuntime 清掉拓扑里已不存在的格田运行状态与倒计时记录。
// 禁用田块的状态保留，重新启用时继续使用。
func (s *WaterService) sweepOrphanRuntime(ctx context.Context) {
	refs, err := s.runtime.ListRefs(ctx)
	if err != nil {
		s.logger.Warn("Failed to scan bay runtime state", zap.Error(err))
		return
	}

	removed := 0
	for _, ref := range refs {
		if p, ok := s.registry.Paddock(ref.Paddock); ok {
			if _, exists := p.BayByNumber(ref.Bay); exists {
				continue
			}
		}
		if err := s.runtime.Delete(ctx, ref); err != nil {
			s.logger.Warn("Failed to remove orphaned runtime state",
				zap.String("bay", ref.String()),
				zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Orphaned bay runtime state removed", zap.Int("count", removed))
	}

	swept, err := s.timers.Sweep(ctx, func(paddock string, bay int) bool {
		p, ok := s.registry.Paddock(paddock)
		if !ok {
			return false
		}
		if bay == 0 {
			return true
		}
		_, exists := p.BayByNumber(bay)
		return exists
	})
	if err != nil {
		s.logger.Warn("Failed to sweep countdown records", zap.Error(err))
	} else if swept > 0 {
		s.logger.Info("Orphaned countdown records removed", zap.Int("count", swept))
	}
}
