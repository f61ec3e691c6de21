package config

import (
	"os"
	"strconv"
	"time"

	common "github.com/PKmac78/paddisense-release/common/config"
)

// Config PWM控制服务配置
type Config struct {
	Database common.DatabaseConfig
	Redis    common.RedisConfig
	MQTT     common.MQTTConfig

	PWM struct {
		StorePath string // 拓扑存储文件路径
		UnitsDir  string // 生成的配置单元目录（读初始控制参数）

		Cache struct {
			KeyPrefix  string        // Redis键前缀
			ReadingTTL time.Duration // 遥测缓存TTL，过期视为不可用
		}

		Control struct {
			EvaluateInterval   time.Duration // 周期评估间隔
			SetupDelay         time.Duration // 模式切换后进场动作的防抖
			ThresholdDebounce  time.Duration // 阈值修改后再评估的防抖
			FlushQualify       time.Duration // 水深连续高于下限多久判定上水
			DrainPulseBurst    time.Duration // 排水脉冲的开闸时长
			DrainPulseCooldown time.Duration // 排水脉冲的间歇时长
			CloseSupplyDelay   time.Duration // 冲灌收尾后提醒关总进水闸的倒计时
			NoticeDedupWindow  time.Duration // 同类通知的去重窗口
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "paddisense")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "paddisense-pwm")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.PWM.StorePath = getEnv("PWM_STORE_PATH", "/config/local_data/pwm/registry.json")
	cfg.PWM.UnitsDir = getEnv("PWM_UNITS_DIR", "/config/local_data/pwm/generated")

	cfg.PWM.Cache.KeyPrefix = getEnv("PWM_CACHE_PREFIX", "paddisense:pwm:")
	cfg.PWM.Cache.ReadingTTL = getEnvDuration("PWM_READING_TTL", 2*time.Hour)

	cfg.PWM.Control.EvaluateInterval = getEnvDuration("PWM_EVALUATE_INTERVAL", 10*time.Minute)
	cfg.PWM.Control.SetupDelay = getEnvDuration("PWM_SETUP_DELAY", 2*time.Minute)
	cfg.PWM.Control.ThresholdDebounce = getEnvDuration("PWM_THRESHOLD_DEBOUNCE", 5*time.Minute)
	cfg.PWM.Control.FlushQualify = getEnvDuration("PWM_FLUSH_QUALIFY", 5*time.Minute)
	cfg.PWM.Control.DrainPulseBurst = getEnvDuration("PWM_DRAIN_PULSE_BURST", 5*time.Second)
	cfg.PWM.Control.DrainPulseCooldown = getEnvDuration("PWM_DRAIN_PULSE_COOLDOWN", 45*time.Minute)
	cfg.PWM.Control.CloseSupplyDelay = getEnvDuration("PWM_CLOSE_SUPPLY_DELAY", time.Hour)
	cfg.PWM.Control.NoticeDedupWindow = getEnvDuration("PWM_NOTICE_DEDUP_WINDOW", 30*time.Minute)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
