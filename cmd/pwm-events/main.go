// pwm-events 查询控制事件审计表，按时间倒序打印。
// 现场排查用：确认通知是否落库、重复抑制是否生效。
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	commoncfg "github.com/PKmac78/paddisense-release/common/config"
	"github.com/PKmac78/paddisense-release/common/database"
	"github.com/PKmac78/paddisense-release/internal/repository"
)

func main() {
	var (
		paddock  = flag.String("paddock", "", "filter by paddock slug")
		bay      = flag.String("bay", "", "filter by bay name")
		evType   = flag.String("type", "", "filter by event type")
		severity = flag.String("severity", "", "filter by severity")
		hours    = flag.Int("hours", 24, "look-back window in hours")
		page     = flag.Int("page", 1, "page number")
		size     = flag.Int("size", 50, "page size")
	)
	flag.Parse()

	// 从环境变量获取数据库连接信息
	cfg := &commoncfg.DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     parseInt(getEnv("DB_PORT", "5432"), 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "paddisense"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}

	// 连接数据库
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := repository.NewControlEventsRepository(db, zap.NewNop())

	since := time.Now().Add(-time.Duration(*hours) * time.Hour)
	filters := repository.ControlEventFilters{StartTime: &since}
	if *paddock != "" {
		filters.PaddockSlug = paddock
	}
	if *bay != "" {
		filters.BayName = bay
	}
	if *evType != "" {
		filters.EventType = evType
	}
	if *severity != "" {
		filters.Severity = severity
	}

	events, total, err := repo.ListControlEvents(context.Background(), filters, *page, *size)
	if err != nil {
		log.Fatalf("Failed to list control events: %v", err)
	}

	fmt.Printf("共 %d 条控制事件（近 %d 小时，第 %d 页）\n\n", total, *hours, *page)
	fmt.Printf("%-20s %-14s %-8s %-24s %-8s %s\n",
		"created_at", "paddock", "bay", "event_type", "severity", "message")
	fmt.Println(strings.Repeat("-", 100))

	for _, ev := range events {
		bayName := ev.BayName
		if bayName == "" {
			bayName = "-"
		}
		fmt.Printf("%-20s %-14s %-8s %-24s %-8s %s\n",
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.PaddockSlug, bayName, ev.EventType, ev.Severity, ev.Message)
	}

	if len(events) == 0 {
		fmt.Println("该时间窗内没有控制事件")
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
