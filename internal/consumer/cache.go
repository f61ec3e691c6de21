package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// ErrCacheMiss 缓存未命中（键缺失或已过期）
var ErrCacheMiss = errors.New("cache miss")

// CacheManager PWM运行数据的Redis读写：遥测、闸门回读、田块模式
type CacheManager struct {
	prefix      string
	readingTTL  time.Duration
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(prefix string, readingTTL time.Duration, redisClient *redis.Client, logger *zap.Logger) *CacheManager {
	return &CacheManager{
		prefix:      prefix,
		readingTTL:  readingTTL,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) readingKey(device string) string {
	return c.prefix + "reading:" + device
}

func (c *CacheManager) doorKey(device string) string {
	return c.prefix + "door:" + device
}

func (c *CacheManager) paddockModeKey(slug string) string {
	return c.prefix + "paddock:" + slug + ":mode"
}

// SetReading 写入设备遥测缓存。带TTL：长期无更新的读数过期后按不可用处理，
// 不会把陈旧数值当作当前水位。
func (c *CacheManager) SetReading(ctx context.Context, device string, r models.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := c.redisClient.Set(ctx, c.readingKey(device), data, c.readingTTL).Err(); err != nil {
		return fmt.Errorf("failed to set reading cache: %w", err)
	}
	return nil
}

// GetReading 读取设备遥测；缓存未命中返回 ErrCacheMiss
func (c *CacheManager) GetReading(ctx context.Context, device string) (*models.Reading, error) {
	val, err := c.redisClient.Get(ctx, c.readingKey(device)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get reading cache: %w", err)
	}
	var r models.Reading
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	return &r, nil
}

// SetDoorState 写入闸门回读状态
func (c *CacheManager) SetDoorState(ctx context.Context, device string, state models.DoorState) error {
	if err := c.redisClient.Set(ctx, c.doorKey(device), string(state), 0).Err(); err != nil {
		return fmt.Errorf("failed to set door state cache: %w", err)
	}
	return nil
}

// GetDoorState 读取闸门回读状态；未命中返回 ErrCacheMiss
func (c *CacheManager) GetDoorState(ctx context.Context, device string) (models.DoorState, error) {
	val, err := c.redisClient.Get(ctx, c.doorKey(device)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get door state cache: %w", err)
	}
	state, err := models.ParseDoorState(val)
	if err != nil {
		return "", err
	}
	return state, nil
}

// SetPaddockMode 写入田块模式
func (c *CacheManager) SetPaddockMode(ctx context.Context, slug string, mode models.Mode) error {
	if err := c.redisClient.Set(ctx, c.paddockModeKey(slug), string(mode), 0).Err(); err != nil {
		return fmt.Errorf("failed to set paddock mode: %w", err)
	}
	return nil
}

// GetPaddockMode 读取田块模式；未命中返回 ErrCacheMiss
func (c *CacheManager) GetPaddockMode(ctx context.Context, slug string) (models.Mode, error) {
	val, err := c.redisClient.Get(ctx, c.paddockModeKey(slug)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get paddock mode: %w", err)
	}
	mode, err := models.ParseMode(val)
	if err != nil {
		return "", err
	}
	return mode, nil
}
