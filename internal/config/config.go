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

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Policy    PolicyConfig    `json:"policy" yaml:"policy"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type GatewayConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	SecretEnv    string        `json:"secret_env" yaml:"secret_env"`
	ReplayWindow time.Duration `json:"replay_window" yaml:"replay_window"`
	RateLimit    int           `json:"rate_limit" yaml:"rate_limit"`
	RateWindow   time.Duration `json:"rate_window" yaml:"rate_window"`
	DedupeTTL    time.Duration `json:"dedupe_ttl" yaml:"dedupe_ttl"`
	AuditPath    string        `json:"audit_path" yaml:"audit_path"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type DetectionConfig struct {
	WindowSpan      time.Duration       `json:"window_span" yaml:"window_span"`
	MaxWindowEvents int                 `json:"max_window_events" yaml:"max_window_events"`
	MaxHosts        int                 `json:"max_hosts" yaml:"max_hosts"`
	IdleHostTTL     time.Duration       `json:"idle_host_ttl" yaml:"idle_host_ttl"`
	BruteForce      BruteForceConfig    `json:"brute_force" yaml:"brute_force"`
	PasswordSpray   PasswordSprayConfig `json:"password_spray" yaml:"password_spray"`
	SuccessAfter    SuccessAfterConfig  `json:"success_after_failures" yaml:"success_after_failures"`
	IngestStorm     IngestStormConfig   `json:"ingest_storm" yaml:"ingest_storm"`
}

type BruteForceConfig struct {
	Threshold int `json:"threshold" yaml:"threshold"`
	Severity  int `json:"severity" yaml:"severity"`
}

type PasswordSprayConfig struct {
	Threshold   int  `json:"threshold" yaml:"threshold"`
	Severity    int  `json:"severity" yaml:"severity"`
	PerSourceIP bool `json:"per_source_ip" yaml:"per_source_ip"`
}

type SuccessAfterConfig struct {
	FailureRun int `json:"failure_run" yaml:"failure_run"`
	Severity   int `json:"severity" yaml:"severity"`
}

type IngestStormConfig struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	Severity  int           `json:"severity" yaml:"severity"`
}

type PolicyConfig struct {
	Cooldown           time.Duration `json:"cooldown" yaml:"cooldown"`
	QuarantineSeverity int           `json:"quarantine_severity" yaml:"quarantine_severity"`
	EscalationLimit    int           `json:"escalation_limit" yaml:"escalation_limit"`
	MinSeverity        int           `json:"min_severity" yaml:"min_severity"`
	PersistRetries     int           `json:"persist_retries" yaml:"persist_retries"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Gateway: GatewayConfig{
			Enabled:      true,
			Addr:         ":8080",
			SecretEnv:    "HOSTSENTRY_SHARED_SECRET",
			ReplayWindow: 2 * time.Minute,
			RateLimit:    300,
			RateWindow:   time.Minute,
			DedupeTTL:    24 * time.Hour,
			AuditPath:    "hostsentry-audit.jsonl",
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Kafka:         KafkaConfig{Enabled: false},
		},
		Detection: DetectionConfig{
			WindowSpan:      5 * time.Minute,
			MaxWindowEvents: 5000,
			MaxHosts:        10000,
			IdleHostTTL:     30 * time.Minute,
			BruteForce:      BruteForceConfig{Threshold: 5, Severity: 6},
			PasswordSpray:   PasswordSprayConfig{Threshold: 5, Severity: 7},
			SuccessAfter:    SuccessAfterConfig{FailureRun: 3, Severity: 9},
			IngestStorm:     IngestStormConfig{Threshold: 50, Interval: 10 * time.Second, Severity: 4},
		},
		Policy: PolicyConfig{
			Cooldown:           2 * time.Minute,
			QuarantineSeverity: 8,
			EscalationLimit:    3,
			MinSeverity:        0,
			PersistRetries:     3,
		},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
		Storage: StorageConfig{Enabled: true, Driver: "sqlite", DSN: "file:hostsentry.db?_pragma=busy_timeout(5000)"},
		Alerts:  AlertsConfig{StoreLimit: 1000},
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
	def := DefaultConfig()
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = def.Alerts.StoreLimit
	}
	if cfg.Gateway.SecretEnv == "" {
		cfg.Gateway.SecretEnv = def.Gateway.SecretEnv
	}
	if cfg.Gateway.ReplayWindow <= 0 {
		cfg.Gateway.ReplayWindow = def.Gateway.ReplayWindow
	}
	if cfg.Gateway.RateWindow <= 0 {
		cfg.Gateway.RateWindow = def.Gateway.RateWindow
	}
	if cfg.Gateway.DedupeTTL <= 0 {
		cfg.Gateway.DedupeTTL = def.Gateway.DedupeTTL
	}
	if cfg.Detection.WindowSpan <= 0 {
		cfg.Detection.WindowSpan = def.Detection.WindowSpan
	}
	if cfg.Detection.MaxWindowEvents <= 0 {
		cfg.Detection.MaxWindowEvents = def.Detection.MaxWindowEvents
	}
	if cfg.Detection.MaxHosts <= 0 {
		cfg.Detection.MaxHosts = def.Detection.MaxHosts
	}
	if cfg.Detection.IdleHostTTL <= 0 {
		cfg.Detection.IdleHostTTL = def.Detection.IdleHostTTL
	}
	if cfg.Detection.IngestStorm.Interval <= 0 {
		cfg.Detection.IngestStorm.Interval = def.Detection.IngestStorm.Interval
	}
	if cfg.Policy.Cooldown <= 0 {
		cfg.Policy.Cooldown = def.Policy.Cooldown
	}
	if cfg.Policy.PersistRetries <= 0 {
		cfg.Policy.PersistRetries = def.Policy.PersistRetries
	}
}

func Validate(cfg *Config) error {
	if cfg.Gateway.Enabled && cfg.Gateway.Addr == "" {
		return errors.New("gateway.addr required when gateway.enabled is true")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Gateway.RateLimit < 0 {
		return errors.New("gateway.rate_limit must be >= 0")
	}
	if cfg.Detection.BruteForce.Threshold <= 0 {
		return errors.New("detection.brute_force.threshold must be > 0")
	}
	if cfg.Detection.PasswordSpray.Threshold <= 0 {
		return errors.New("detection.password_spray.threshold must be > 0")
	}
	if cfg.Detection.SuccessAfter.FailureRun <= 0 {
		return errors.New("detection.success_after_failures.failure_run must be > 0")
	}
	if cfg.Detection.IngestStorm.Threshold <= 0 {
		return errors.New("detection.ingest_storm.threshold must be > 0")
	}
	if cfg.Detection.IngestStorm.Interval > cfg.Detection.WindowSpan {
		return fmt.Errorf("detection.ingest_storm.interval %s exceeds window_span %s",
			cfg.Detection.IngestStorm.Interval, cfg.Detection.WindowSpan)
	}
	if cfg.Policy.QuarantineSeverity < 0 || cfg.Policy.QuarantineSeverity > 10 {
		return errors.New("policy.quarantine_severity must be within 0..10")
	}
	if cfg.Policy.EscalationLimit <= 0 {
		return errors.New("policy.escalation_limit must be > 0")
	}
	for _, sev := range []int{
		cfg.Detection.BruteForce.Severity,
		cfg.Detection.PasswordSpray.Severity,
		cfg.Detection.SuccessAfter.Severity,
		cfg.Detection.IngestStorm.Severity,
	} {
		if sev < 0 || sev > 10 {
			return fmt.Errorf("detector severity %d outside 0..10", sev)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
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
