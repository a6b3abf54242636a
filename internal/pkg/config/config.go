package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	App          AppConfig          `mapstructure:"app"`
	Realtime     RealtimeConfig     `mapstructure:"realtime"`
	Notification NotificationConfig `mapstructure:"notification"`
	Push         PushConfig         `mapstructure:"push"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver"` // postgres, memory
	Host         string        `mapstructure:"host"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	Port         string        `mapstructure:"port"`
	SSLMode      string        `mapstructure:"sslmode"`
	TimeZone     string        `mapstructure:"timezone"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int64  `mapstructure:"expire"` // 小时
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

// RealtimeConfig 在线状态与推送配置
type RealtimeConfig struct {
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	InactiveThreshold time.Duration `mapstructure:"inactive_threshold"`
	SendBuffer        int           `mapstructure:"send_buffer"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	Relay             string        `mapstructure:"relay"` // none, redis
	RelayChannel      string        `mapstructure:"relay_channel"`
}

// NotificationConfig 通知服务配置
type NotificationConfig struct {
	URL        string        `mapstructure:"url"`
	Workers    int           `mapstructure:"workers"`
	QueueSize  int           `mapstructure:"queue_size"`
	MaxRetry   int           `mapstructure:"max_retry"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type PushConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	AppKey          int64  `mapstructure:"app_key"`
	RegionID        string `mapstructure:"region_id"` // e.g., "cn-hangzhou"
}

var GlobalConfig Config

// Validate 验证配置
func (c *Config) Validate() error {
	// JWT 配置验证
	if c.JWT.Secret == "" || c.JWT.Secret == "your_super_secret_key" {
		return errors.New("please set a secure JWT secret in production")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}

	// 数据库配置验证
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return errors.New("database configuration is incomplete")
		}
	default:
		return errors.New("database driver must be postgres or memory")
	}

	// Redis 配置验证
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.Realtime.Relay == "redis" && !c.Redis.Enabled {
		return errors.New("redis relay requires redis to be enabled")
	}

	if c.Realtime.InactiveThreshold <= 0 || c.Realtime.ReapInterval <= 0 {
		return errors.New("realtime reap interval and inactive threshold must be positive")
	}

	return nil
}

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.query_timeout", 5*time.Second)
	v.SetDefault("jwt.expire", 24)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.debug", true)
	v.SetDefault("realtime.reap_interval", 30*time.Minute)
	v.SetDefault("realtime.inactive_threshold", time.Hour)
	v.SetDefault("realtime.send_buffer", 64)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.relay", "none")
	v.SetDefault("realtime.relay_channel", "forum:events")
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 1024)
	v.SetDefault("notification.max_retry", 3)
	v.SetDefault("notification.rate_per_sec", 50)
	v.SetDefault("notification.timeout", 5*time.Second)
}

// LoadConfig 加载配置
func LoadConfig() {
	// .env 仅用于本地开发，不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	// 获取环境变量，默认为dev
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 根据环境选择配置文件
	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.GetViper()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults or env vars: %v", err)
	}

	// 绑定环境变量
	v.AutomaticEnv()

	if err := v.Unmarshal(&GlobalConfig); err != nil {
		log.Fatalf("Unable to decode into struct: %v", err)
	}

	// 手动覆盖，以防 viper 无法正确解析复杂结构或环境变量
	if host := os.Getenv("DB_HOST"); host != "" {
		GlobalConfig.Database.Host = host
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		GlobalConfig.Database.Driver = driver
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		GlobalConfig.Redis.Addr = redisAddr
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		GlobalConfig.JWT.Secret = jwtSecret
	}
	if notifyURL := os.Getenv("NOTIFICATION_SERVICE_URL"); notifyURL != "" {
		GlobalConfig.Notification.URL = notifyURL
	}

	// 验证配置
	if err := GlobalConfig.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	log.Printf("Configuration loaded and validated successfully. Environment: %s", GlobalConfig.App.Env)
}
