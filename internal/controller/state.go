package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// ErrStateMissing 格田运行状态尚未持久化过
var ErrStateMissing = errors.New("bay runtime state missing")

// RuntimeStore 格田运行状态的Redis写穿存储。键形如
// <prefix>bay:<slug>:<n>，不设过期：模式与阈值要跨重启存活。
type RuntimeStore struct {
	prefix      string
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewRuntimeStore 创建运行状态存储
func NewRuntimeStore(prefix string, redisClient *redis.Client, logger *zap.Logger) *RuntimeStore {
	return &RuntimeStore{
		prefix:      prefix,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (s *RuntimeStore) key(ref models.BayRef) string {
	return fmt.Sprintf("%sbay:%s:%d", s.prefix, ref.Paddock, ref.Bay)
}

// Save 写入格田运行状态
func (s *RuntimeStore) Save(ctx context.Context, ref models.BayRef, rt *models.BayRuntime) error {
	rt.UpdatedAt = time.Now().Unix()
	data, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("failed to marshal bay runtime: %w", err)
	}
	if err := s.redisClient.Set(ctx, s.key(ref), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save bay runtime for %s: %w", ref, err)
	}
	return nil
}

// Load 读取格田运行状态；从未写入过返回 ErrStateMissing
func (s *RuntimeStore) Load(ctx context.Context, ref models.BayRef) (*models.BayRuntime, error) {
	data, err := s.redisClient.Get(ctx, s.key(ref)).Result()
	if err == redis.Nil {
		return nil, ErrStateMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load bay runtime for %s: %w", ref, err)
	}
	var rt models.BayRuntime
	if err := json.Unmarshal([]byte(data), &rt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bay runtime for %s: %w", ref, err)
	}
	return &rt, nil
}

// Delete 清除格田运行状态（拓扑里已不存在的格田启动时清扫）
func (s *RuntimeStore) Delete(ctx context.Context, ref models.BayRef) error {
	if err := s.redisClient.Del(ctx, s.key(ref)).Err(); err != nil {
		return fmt.Errorf("failed to delete bay runtime for %s: %w", ref, err)
	}
	return nil
}

// ListRefs 扫描现存的全部运行状态键，返回对应的格田引用。
// 清扫孤儿状态时用：拿全量键与拓扑对账。
func (s *RuntimeStore) ListRefs(ctx context.Context) ([]models.BayRef, error) {
	pattern := s.prefix + "bay:*"
	var refs []models.BayRef
	iter := s.redisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		ref, ok := s.parseKey(iter.Val())
		if !ok {
			s.logger.Warn("Skipping unparseable bay runtime key", zap.String("key", iter.Val()))
			continue
		}
		refs = append(refs, ref)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan bay runtime keys: %w", err)
	}
	return refs, nil
}

// parseKey 从 <prefix>bay:<slug>:<n> 还原格田引用。
// slug 本身不含冒号（Slugify 只产出小写字母数字和下划线）。
func (s *RuntimeStore) parseKey(key string) (models.BayRef, bool) {
	rest := strings.TrimPrefix(key, s.prefix+"bay:")
	if rest == key {
		return models.BayRef{}, false
	}
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return models.BayRef{}, false
	}
	n, err := strconv.Atoi(rest[idx+1:])
	if err != nil {
		return models.BayRef{}, false
	}
	return models.BayRef{Paddock: rest[:idx], Bay: n}, true
}
