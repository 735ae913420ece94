package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 远程表格后端
const (
	BackendMemory   = "memory"
	BackendExcel    = "excel"
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// 通知推送方式
const (
	TransportNone  = "none"
	TransportRedis = "redis"
	TransportMQTT  = "mqtt"
)

// DatabaseConfig 数据库配置（Postgres 后端）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// LoadFromEnv 从环境变量加载（prefix_HOST, prefix_PORT ...）
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	c.Host = getEnv(prefix+"_HOST", c.Host)
	c.Port = parseInt(getEnv(prefix+"_PORT", ""), c.Port)
	c.User = getEnv(prefix+"_USER", c.User)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.Database = getEnv(prefix+"_NAME", c.Database)
	c.SSLMode = getEnv(prefix+"_SSLMODE", c.SSLMode)
	c.MaxConns = parseInt(getEnv(prefix+"_MAX_CONNS", ""), c.MaxConns)
	c.MaxIdle = parseInt(getEnv(prefix+"_MAX_IDLE", ""), c.MaxIdle)
}

// RedisConfig Redis 配置（扫描租约、通知流）
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoadFromEnv 从环境变量加载Redis配置
func (c *RedisConfig) LoadFromEnv(prefix string) {
	c.Addr = getEnv(prefix+"_ADDR", c.Addr)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.DB = parseInt(getEnv(prefix+"_DB", ""), c.DB)
}

// MQTTConfig MQTT 配置（通知推送）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // 通知发布到 Topic/<recipientId>
	QoS      byte
}

// LoadFromEnv 从环境变量加载MQTT配置
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	c.Broker = getEnv(prefix+"_BROKER", c.Broker)
	c.ClientID = getEnv(prefix+"_CLIENT_ID", c.ClientID)
	c.Username = getEnv(prefix+"_USERNAME", c.Username)
	c.Password = getEnv(prefix+"_PASSWORD", c.Password)
	c.Topic = getEnv(prefix+"_TOPIC", c.Topic)
	c.QoS = byte(parseInt(getEnv(prefix+"_QOS", ""), int(c.QoS)))
}

// SheetsConfig 远程表格访问
type SheetsConfig struct {
	Backend        string
	ExcelPath      string
	APIBaseURL     string
	SpreadsheetID  string
	APIToken       string
	CallTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	SessionTTL     time.Duration
}

// CacheConfig 各集合缓存 TTL
type CacheConfig struct {
	PeopleTTL        time.Duration
	SettingsTTL      time.Duration
	NotificationsTTL time.Duration
	AuditTTL         time.Duration
}

// SweepConfig 自动退房扫描
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
	LockTTL  time.Duration
	ActorID  string
}

// Config smarthouse-data 配置
type Config struct {
	HTTP struct {
		Addr string
	}
	Sheets   SheetsConfig
	Cache    CacheConfig
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Notify   struct {
		Transport string
		Stream    string
	}
	Sweep SweepConfig
	Log   struct {
		Level  string
		Format string
	}
}

// Load 读取环境变量（存在 .env 时先加载）
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Sheets.Backend = strings.ToLower(getEnv("SHEETS_BACKEND", BackendMemory))
	cfg.Sheets.ExcelPath = getEnv("SHEETS_EXCEL_PATH", "data/smarthouse.xlsx")
	cfg.Sheets.APIBaseURL = getEnv("SHEETS_API_BASE_URL", "")
	cfg.Sheets.SpreadsheetID = getEnv("SHEETS_SPREADSHEET_ID", "")
	cfg.Sheets.APIToken = getEnv("SHEETS_API_TOKEN", "")
	cfg.Sheets.CallTimeout = parseDuration(getEnv("SHEETS_CALL_TIMEOUT", ""), 30*time.Second)
	cfg.Sheets.MaxRetries = parseInt(getEnv("SHEETS_MAX_RETRIES", ""), 3)
	cfg.Sheets.RetryBaseDelay = parseDuration(getEnv("SHEETS_RETRY_BASE_DELAY", ""), time.Second)
	cfg.Sheets.SessionTTL = parseDuration(getEnv("SHEETS_SESSION_TTL", ""), 10*time.Minute)

	cfg.Cache.PeopleTTL = parseDuration(getEnv("CACHE_PEOPLE_TTL", ""), 60*time.Second)
	cfg.Cache.SettingsTTL = parseDuration(getEnv("CACHE_SETTINGS_TTL", ""), 5*time.Minute)
	cfg.Cache.NotificationsTTL = parseDuration(getEnv("CACHE_NOTIFICATIONS_TTL", ""), 30*time.Second)
	cfg.Cache.AuditTTL = parseDuration(getEnv("CACHE_AUDIT_TTL", ""), 2*time.Minute)

	cfg.Database = DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "smarthouse",
		SSLMode:  "disable",
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "smarthouse-data",
		Topic:    "smarthouse/notifications",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Notify.Transport = strings.ToLower(getEnv("NOTIFY_TRANSPORT", TransportNone))
	cfg.Notify.Stream = getEnv("NOTIFY_STREAM", "smarthouse:notifications")

	cfg.Sweep.Enabled = parseBool(getEnv("SWEEP_ENABLED", ""), true)
	cfg.Sweep.Interval = parseDuration(getEnv("SWEEP_INTERVAL", ""), time.Hour)
	cfg.Sweep.LockTTL = parseDuration(getEnv("SWEEP_LOCK_TTL", ""), 5*time.Minute)
	cfg.Sweep.ActorID = getEnv("SWEEP_ACTOR_ID", "system")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg
}

// Validate 检查后端所需参数
func (c *Config) Validate() error {
	switch c.Sheets.Backend {
	case BackendMemory, BackendPostgres:
	case BackendExcel:
		if c.Sheets.ExcelPath == "" {
			return fmt.Errorf("SHEETS_EXCEL_PATH is required for the excel backend")
		}
	case BackendHTTP:
		if c.Sheets.APIBaseURL == "" || c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("SHEETS_API_BASE_URL and SHEETS_SPREADSHEET_ID are required for the http backend")
		}
	default:
		return fmt.Errorf("unknown SHEETS_BACKEND %q", c.Sheets.Backend)
	}
	switch c.Notify.Transport {
	case TransportNone, TransportRedis, TransportMQTT:
	default:
		return fmt.Errorf("unknown NOTIFY_TRANSPORT %q", c.Notify.Transport)
	}
	return nil
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

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseBool(s string, def bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
