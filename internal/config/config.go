package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. WIFIWATCH_STORAGE_DSN.
const EnvPrefix = "WIFIWATCH"

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level" split_words:"true" validate:"omitempty,oneof=debug info warn warning error"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Cooldown  CooldownConfig  `json:"cooldown" yaml:"cooldown"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer" split_words:"true" validate:"gte=0"`
	BatchSize     int            `json:"batch_size" yaml:"batch_size" split_words:"true" validate:"gte=0"`
	FlushInterval time.Duration  `json:"flush_interval" yaml:"flush_interval" split_words:"true"`
	DedupeWindow  time.Duration  `json:"dedupe_window" yaml:"dedupe_window" split_words:"true"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail" split_words:"true"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig   `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end" split_words:"true"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id" split_words:"true"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultLocation string `json:"default_location" yaml:"default_location" split_words:"true"`
}

type DetectionConfig struct {
	DegradationWindow     time.Duration `json:"degradation_window" yaml:"degradation_window" split_words:"true" validate:"gt=0"`
	DegradationThreshold  float64       `json:"degradation_threshold" yaml:"degradation_threshold" split_words:"true" validate:"lt=0"`
	PoorSignalWindow      time.Duration `json:"poor_signal_window" yaml:"poor_signal_window" split_words:"true" validate:"gt=0"`
	PoorSignalFloor       float64       `json:"poor_signal_floor" yaml:"poor_signal_floor" split_words:"true"`
	DisappearanceLookback time.Duration `json:"disappearance_lookback" yaml:"disappearance_lookback" split_words:"true" validate:"gt=0"`
	DisappearanceGrace    time.Duration `json:"disappearance_grace" yaml:"disappearance_grace" split_words:"true" validate:"gt=0"`
	AlertCooldown         time.Duration `json:"alert_cooldown" yaml:"alert_cooldown" split_words:"true" validate:"gte=0"`
}

type CooldownConfig struct {
	Backend   string `json:"backend" yaml:"backend" validate:"oneof=memory redis"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" split_words:"true"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db" split_words:"true"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" split_words:"true"`
}

type SchedulerConfig struct {
	Enabled              bool          `json:"enabled" yaml:"enabled"`
	Interval             time.Duration `json:"interval" yaml:"interval" validate:"gt=0"`
	PassTimeout          time.Duration `json:"pass_timeout" yaml:"pass_timeout" split_words:"true" validate:"gte=0"`
	PruneInterval        time.Duration `json:"prune_interval" yaml:"prune_interval" split_words:"true" validate:"gte=0"`
	AlertRetention       time.Duration `json:"alert_retention" yaml:"alert_retention" split_words:"true" validate:"gte=0"`
	MeasurementRetention time.Duration `json:"measurement_retention" yaml:"measurement_retention" split_words:"true" validate:"gte=0"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver" validate:"oneof=sqlite postgres postgresql memory"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type NotifyConfig struct {
	Kafka     NotifyKafkaConfig `json:"kafka" yaml:"kafka"`
	Websocket WebsocketConfig   `json:"websocket" yaml:"websocket"`
	Breaker   BreakerConfig     `json:"breaker" yaml:"breaker"`
}

type NotifyKafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type WebsocketConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

type BreakerConfig struct {
	MaxFailures uint32        `json:"max_failures" yaml:"max_failures" split_words:"true"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" split_words:"true"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" split_words:"true"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			BatchSize:     100,
			FlushInterval: 1 * time.Second,
			DedupeWindow:  1 * time.Minute,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			Parser:        ParserConfig{Timezone: "UTC"},
		},
		Detection: DetectionConfig{
			DegradationWindow:     1 * time.Hour,
			DegradationThreshold:  -10.0,
			PoorSignalWindow:      1 * time.Hour,
			PoorSignalFloor:       -80.0,
			DisappearanceLookback: 2 * time.Hour,
			DisappearanceGrace:    30 * time.Minute,
			AlertCooldown:         0,
		},
		Cooldown: CooldownConfig{Backend: "memory", KeyPrefix: "wifiwatch:cooldown:"},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			Interval:             5 * time.Minute,
			PassTimeout:          30 * time.Second,
			PruneInterval:        1 * time.Hour,
			AlertRetention:       7 * 24 * time.Hour,
			MeasurementRetention: 30 * 24 * time.Hour,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:wifiwatch.db?_pragma=busy_timeout(5000)"},
		Notify: NotifyConfig{
			Websocket: WebsocketConfig{Enabled: true},
			Breaker:   BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Metrics: MetricsConfig{StoreLimit: 5000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return finish(cfg)
}

// FromEnv builds a config from defaults and WIFIWATCH_* variables only.
func FromEnv() (*Config, error) {
	return finish(DefaultConfig())
}

func finish(cfg *Config) (*Config, error) {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = 100
	}
	if cfg.Ingest.FlushInterval <= 0 {
		cfg.Ingest.FlushInterval = 1 * time.Second
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Cooldown.Backend == "" {
		cfg.Cooldown.Backend = "memory"
	}
	if cfg.Cooldown.KeyPrefix == "" {
		cfg.Cooldown.KeyPrefix = "wifiwatch:cooldown:"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.Notify.Breaker.MaxFailures == 0 {
		cfg.Notify.Breaker.MaxFailures = 5
	}
	if cfg.Notify.Breaker.OpenTimeout <= 0 {
		cfg.Notify.Breaker.OpenTimeout = 30 * time.Second
	}
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Notify.Kafka.Enabled {
		if len(cfg.Notify.Kafka.Brokers) == 0 || cfg.Notify.Kafka.Topic == "" {
			return errors.New("notify.kafka requires brokers and topic")
		}
	}
	if cfg.Cooldown.Backend == "redis" && cfg.Cooldown.RedisAddr == "" {
		return errors.New("cooldown.redis_addr required when cooldown.backend is redis")
	}
	if cfg.Detection.DisappearanceGrace >= cfg.Detection.DisappearanceLookback {
		return fmt.Errorf("detection.disappearance_grace (%s) must be shorter than disappearance_lookback (%s)",
			cfg.Detection.DisappearanceGrace, cfg.Detection.DisappearanceLookback)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

// NewManager loads path, or the environment alone when path is empty.
func NewManager(path string) (*Manager, error) {
	var cfg *Config
	var err error
	if path == "" {
		cfg, err = FromEnv()
	} else {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
