package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"CeleryPulse/internal/sink"
	"CeleryPulse/internal/storage/sqldb"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "CELERYPULSE_CONFIG"

// DefaultPath 是未设置 EnvConfigPath 时尝试读取的配置文件。
var DefaultPath = filepath.Join("configs", "celerypulse.yaml")

// 支持的 sink 驱动。
const (
	SinkPrometheus = "prometheus"
	SinkInfluxDB   = "influxdb"
	SinkSQL        = "sql"
	SinkMemory     = "memory"
)

// 默认值。
const (
	DefaultFrequency                = 10.0
	DefaultStoreMaxLen              = 10240
	DefaultStoreMaxAgeSeconds       = 7 * 24 * 60 * 60
	DefaultDispatchWorkers          = 16
	DefaultDispatchBuffer           = 1024
	DefaultReconnectIntervalSeconds = 2.0
	DefaultChannelPattern           = "/{db}.celeryev/*"
	DefaultHTTPAddress              = ":9808"
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "json"
)

// Config 描述了监控进程在启动阶段需要加载的全部配置。
type Config struct {
	BrokerURL string         `yaml:"broker_url"`
	Frequency float64        `yaml:"frequency"`
	Queues    []string       `yaml:"queues"`
	Debug     bool           `yaml:"debug"`
	Store     StoreConfig    `yaml:"store"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Events    EventsConfig   `yaml:"events"`
	HTTP      HTTPConfig     `yaml:"http"`
	Log       LogConfig      `yaml:"log"`
	Sentry    SentryConfig   `yaml:"sentry"`
	Sinks     []SinkConfig   `yaml:"sinks"`
}

// StoreConfig 控制任务状态缓存的容量与过期时间。
type StoreConfig struct {
	MaxLen        int `yaml:"max_len"`
	MaxAgeSeconds int `yaml:"max_age_seconds"`
}

// DispatchConfig 控制事件分发的并发度与重连节奏。
type DispatchConfig struct {
	Workers                  int     `yaml:"workers"`
	Buffer                   int     `yaml:"buffer"`
	ReconnectIntervalSeconds float64 `yaml:"reconnect_interval_seconds"`
}

// EventsConfig 描述事件流的订阅方式。
type EventsConfig struct {
	ChannelPattern string `yaml:"channel_pattern"`
	PrioritySteps  []int  `yaml:"priority_steps"`
}

// HTTPConfig 控制管理端口。
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string       `yaml:"level"`
	Format      string       `yaml:"format"`
	OutputPaths []string     `yaml:"output_paths"`
	Rotate      RotateConfig `yaml:"rotate"`
}

// RotateConfig 控制日志文件滚动。
type RotateConfig struct {
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// SentryConfig 为空 DSN 时不上报。
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// SinkConfig 描述一个指标输出端。不同驱动使用不同字段。
type SinkConfig struct {
	Driver string `yaml:"driver"`

	// influxdb
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`
	Org       string `yaml:"org"`
	Bucket    string `yaml:"bucket"`
	BatchSize uint   `yaml:"batch_size"`

	// sql
	SQLDriver  string `yaml:"sql_driver"`
	DSN        string `yaml:"dsn"`
	MaxPending int    `yaml:"max_pending"`
}

// ResolvePath 返回应读取的配置文件路径；没有可用文件时返回空串。
func ResolvePath() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load 读取可选的 YAML 配置文件，再叠加环境变量并填充默认值。
// path 为空时只使用环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s 不是整数: %w", key, err)
		}
		*dst = n
		return nil
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("环境变量 %s 不是数字: %w", key, err)
		}
		*dst = f
		return nil
	}

	str("CELERY_BROKER_URL", &c.BrokerURL)
	str("SENTRY_DSN", &c.Sentry.DSN)
	str("SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	str("EVENTS_CHANNEL_PATTERN", &c.Events.ChannelPattern)
	str("HTTP_ADDRESS", &c.HTTP.Address)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	err := errors.Join(
		float("FREQUENCY", &c.Frequency),
		integer("STORE_MAX_LEN", &c.Store.MaxLen),
		integer("STORE_MAX_AGE", &c.Store.MaxAgeSeconds),
		integer("DISPATCH_WORKERS", &c.Dispatch.Workers),
		integer("DISPATCH_BUFFER", &c.Dispatch.Buffer),
		float("RECONNECT_INTERVAL", &c.Dispatch.ReconnectIntervalSeconds),
	)
	if err != nil {
		return err
	}

	if v, ok := lookup("DEBUG"); ok && strings.TrimSpace(v) != "" {
		c.Debug = envTruthy(v)
	}

	if v, ok := lookup("QUEUES"); ok && strings.TrimSpace(v) != "" {
		c.Queues = splitList(v)
	}

	if v, ok := lookup("INFLUXDB_URL"); ok && strings.TrimSpace(v) != "" {
		influx := SinkConfig{Driver: SinkInfluxDB}
		str("INFLUXDB_URL", &influx.URL)
		str("INFLUXDB_TOKEN", &influx.Token)
		str("INFLUXDB_ORG", &influx.Org)
		str("INFLUXDB_BUCKET", &influx.Bucket)
		c.Sinks = append(c.Sinks, influx)
	}
	if v, ok := lookup("SQL_SINK_DSN"); ok && strings.TrimSpace(v) != "" {
		sqlSink := SinkConfig{Driver: SinkSQL}
		str("SQL_SINK_DRIVER", &sqlSink.SQLDriver)
		str("SQL_SINK_DSN", &sqlSink.DSN)
		c.Sinks = append(c.Sinks, sqlSink)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	if c.Store.MaxLen == 0 {
		c.Store.MaxLen = DefaultStoreMaxLen
	}
	if c.Store.MaxAgeSeconds == 0 {
		c.Store.MaxAgeSeconds = DefaultStoreMaxAgeSeconds
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = DefaultDispatchWorkers
	}
	if c.Dispatch.Buffer == 0 {
		c.Dispatch.Buffer = DefaultDispatchBuffer
	}
	if c.Dispatch.ReconnectIntervalSeconds == 0 {
		c.Dispatch.ReconnectIntervalSeconds = DefaultReconnectIntervalSeconds
	}
	if c.Events.ChannelPattern == "" {
		c.Events.ChannelPattern = DefaultChannelPattern
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = DefaultHTTPAddress
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Driver: SinkPrometheus}}
	}
	for i := range c.Sinks {
		c.Sinks[i].Driver = strings.ToLower(strings.TrimSpace(c.Sinks[i].Driver))
		if c.Sinks[i].Driver == SinkSQL && c.Sinks[i].SQLDriver == "" {
			c.Sinks[i].SQLDriver = sqldb.DialectMySQL
		}
	}
}

// Validate 检查配置是否可用于启动。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BrokerURL) == "" {
		return errors.New("必须配置 broker_url (CELERY_BROKER_URL)")
	}
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency 必须为正数: %v", c.Frequency)
	}
	if c.Store.MaxLen <= 0 {
		return fmt.Errorf("store.max_len 必须为正数: %d", c.Store.MaxLen)
	}
	if c.Store.MaxAgeSeconds <= 0 {
		return fmt.Errorf("store.max_age_seconds 必须为正数: %d", c.Store.MaxAgeSeconds)
	}
	if c.Dispatch.Workers <= 0 || c.Dispatch.Buffer <= 0 {
		return fmt.Errorf("dispatch.workers 与 dispatch.buffer 必须为正数")
	}
	if c.Dispatch.ReconnectIntervalSeconds < 0 {
		return fmt.Errorf("dispatch.reconnect_interval_seconds 不能为负数")
	}
	for i, s := range c.Sinks {
		switch s.Driver {
		case SinkPrometheus, SinkMemory:
		case SinkInfluxDB:
			if s.URL == "" || s.Bucket == "" {
				return fmt.Errorf("sinks[%d]: influxdb 需要 url 与 bucket", i)
			}
		case SinkSQL:
			if sqldb.NormalizeDriver(s.SQLDriver) == "" {
				return fmt.Errorf("sinks[%d]: 不支持的 sql_driver %q", i, s.SQLDriver)
			}
			if s.DSN == "" {
				return fmt.Errorf("sinks[%d]: sql 需要 dsn", i)
			}
		default:
			return fmt.Errorf("sinks[%d]: %w: %q", i, sink.ErrUnknownDriver, s.Driver)
		}
	}
	return nil
}

// Period 返回聚合周期。
func (c *Config) Period() time.Duration {
	return time.Duration(c.Frequency * float64(time.Second))
}

// StoreMaxAge 返回任务状态的最长保留时间。
func (c *Config) StoreMaxAge() time.Duration {
	return time.Duration(c.Store.MaxAgeSeconds) * time.Second
}

// ReconnectInterval 返回两次连接尝试之间的最小间隔。
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Dispatch.ReconnectIntervalSeconds * float64(time.Second))
}

// envTruthy 把任意非空值视为开启，只有可解析的假值（false、0 等）例外。
func envTruthy(value string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return true
	}
	return b
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
