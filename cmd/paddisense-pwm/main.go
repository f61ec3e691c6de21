package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/common/logger"
	"github.com/PKmac78/paddisense-release/internal/config"
	"github.com/PKmac78/paddisense-release/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "paddisense-pwm")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	waterService, err := service.NewWaterService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create PWM service",
			zap.Error(err),
		)
	}

	// 4. 启动（控制器与消费者在后台运行）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := waterService.Start(ctx); err != nil {
		log.Fatal("Failed to start PWM service",
			zap.Error(err),
		)
	}

	// 5. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := waterService.Stop(stopCtx); err != nil {
		log.Error("Shutdown incomplete",
			zap.Error(err),
		)
	}

	log.Info("PWM service stopped")
}
