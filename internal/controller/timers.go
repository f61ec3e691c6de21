package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// TimerFunc 倒计时到点回调。在计时goroutine里执行，
// 接收方须自行转入自己的事件循环。
type TimerFunc func(rec models.CountdownRecord)

// TimerStore 持久化倒计时。记录落Redis（键 <prefix>timer:<slug>:<n>:<purpose>，
// 值含绝对到点时刻），进程内用 time.Timer 排程。同一(格田,用途)重复启动
// 采用重置语义：旧计时作废，从零重新计满。
type TimerStore struct {
	prefix      string
	redisClient *redis.Client
	logger      *zap.Logger

	mu     sync.Mutex
	active map[string]*time.Timer
}

// NewTimerStore 创建倒计时存储
func NewTimerStore(prefix string, redisClient *redis.Client, logger *zap.Logger) *TimerStore {
	return &TimerStore{
		prefix:      prefix,
		redisClient: redisClient,
		logger:      logger,
		active:      make(map[string]*time.Timer),
	}
}

func (s *TimerStore) key(paddock string, bay int, purpose string) string {
	return fmt.Sprintf("%stimer:%s:%d:%s", s.prefix, paddock, bay, purpose)
}

// Start 启动或重置倒计时。记录先落Redis再排程，崩溃后 Restore 可续。
func (s *TimerStore) Start(ctx context.Context, paddock string, bay int, purpose string, d time.Duration, fire TimerFunc) error {
	rec := models.CountdownRecord{
		Paddock:  paddock,
		Bay:      bay,
		Purpose:  purpose,
		Deadline: time.Now().Add(d).Unix(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal countdown record: %w", err)
	}
	key := s.key(paddock, bay, purpose)
	if err := s.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist countdown %s: %w", key, err)
	}
	s.schedule(key, rec, d, fire)
	s.logger.Info("Countdown started",
		zap.String("paddock", paddock),
		zap.Int("bay", bay),
		zap.String("purpose", purpose),
		zap.Duration("duration", d))
	return nil
}

// Cancel 撤销倒计时：停表并删除持久化记录。没在跑也不算错。
func (s *TimerStore) Cancel(ctx context.Context, paddock string, bay int, purpose string) error {
	key := s.key(paddock, bay, purpose)
	s.mu.Lock()
	if t, ok := s.active[key]; ok {
		t.Stop()
		delete(s.active, key)
	}
	s.mu.Unlock()
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete countdown %s: %w", key, err)
	}
	return nil
}

// Restore 重载全部倒计时记录：已过期的立即触发，未到点的按剩余时长排程。
// 返回重载的记录数。在控制器装配完、事件循环启动前调用。
func (s *TimerStore) Restore(ctx context.Context, fire TimerFunc) (int, error) {
	pattern := s.prefix + "timer:*"
	restored := 0
	iter := s.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.redisClient.Get(ctx, key).Result()
		if err != nil {
			s.logger.Warn("Failed to read countdown record", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec models.CountdownRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("Dropping malformed countdown record", zap.String("key", key), zap.Error(err))
			s.redisClient.Del(ctx, key)
			continue
		}
		remaining := time.Until(time.Unix(rec.Deadline, 0))
		if remaining <= 0 {
			// 停机期间已到点：补触发
			s.clear(key)
			s.logger.Info("Countdown expired while offline, firing now",
				zap.String("paddock", rec.Paddock),
				zap.Int("bay", rec.Bay),
				zap.String("purpose", rec.Purpose))
			fire(rec)
		} else {
			s.schedule(key, rec, remaining, fire)
			s.logger.Info("Countdown rescheduled",
				zap.String("paddock", rec.Paddock),
				zap.Int("bay", rec.Bay),
				zap.String("purpose", rec.Purpose),
				zap.Duration("remaining", remaining))
		}
		restored++
	}
	if err := iter.Err(); err != nil {
		return restored, fmt.Errorf("failed to scan countdown keys: %w", err)
	}
	return restored, nil
}

// Sweep 清掉归属已失效的倒计时记录，keep 判定 (田块,格田) 是否仍有效
// （bay 0 为田块级记录）。在 Restore 之前调用，此时进程内尚无排程。
// 返回删除的记录数。
func (s *TimerStore) Sweep(ctx context.Context, keep func(paddock string, bay int) bool) (int, error) {
	pattern := s.prefix + "timer:*"
	removed := 0
	iter := s.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.redisClient.Get(ctx, key).Result()
		if err != nil {
			s.logger.Warn("Failed to read countdown record", zap.String("key", key), zap.Error(err))
			continue
		}
		var rec models.CountdownRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			// 坏记录留给 Restore 丢弃
			continue
		}
		if keep(rec.Paddock, rec.Bay) {
			continue
		}
		if err := s.redisClient.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("Failed to delete orphaned countdown record", zap.String("key", key), zap.Error(err))
			continue
		}
		s.logger.Info("Orphaned countdown record removed",
			zap.String("paddock", rec.Paddock),
			zap.Int("bay", rec.Bay),
			zap.String("purpose", rec.Purpose))
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan countdown keys: %w", err)
	}
	return removed, nil
}

// schedule 排程到点触发；同键旧表先停掉
func (s *TimerStore) schedule(key string, rec models.CountdownRecord, d time.Duration, fire TimerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.active[key]; ok {
		old.Stop()
	}
	s.active[key] = time.AfterFunc(d, func() {
		s.clear(key)
		fire(rec)
	})
}

// clear 摘除进程内排程并删除持久化记录
func (s *TimerStore) clear(key string) {
	s.mu.Lock()
	delete(s.active, key)
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("Failed to delete fired countdown record", zap.String("key", key), zap.Error(err))
	}
}

// StopAll 停掉全部进程内排程（退场用），持久化记录保留待下次 Restore
func (s *TimerStore) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.active {
		t.Stop()
		delete(s.active, key)
	}
}
