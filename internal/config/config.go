package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Playback modes.
const (
	ModeGOP    = "gop"
	ModeBFrame = "bframe"
)

// Start positions.
const (
	StartLive   = "live"
	StartFuture = "future"
)

type Config struct {
	Player    PlayerConfig    `mapstructure:"player"`
	Transport TransportConfig `mapstructure:"transport"`
	Decoder   DecoderConfig   `mapstructure:"decoder"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Store     StoreConfig     `mapstructure:"store"`
	API       APIConfig       `mapstructure:"api"`
}

type PlayerConfig struct {
	Mode            string `mapstructure:"mode"`              // gop or bframe
	BufferMs        int64  `mapstructure:"buffer_ms"`         // presentation buffer target
	ReorderBufferMs int64  `mapstructure:"reorder_buffer_ms"` // bframe mode only
	FrameDuration   int64  `mapstructure:"frame_duration"`    // timescale units
	GOPJump         int64  `mapstructure:"gop_jump"`          // timescale units
	Namespace       string `mapstructure:"namespace"`
	InitTrack       string `mapstructure:"init_track"`
	VideoTrack      string `mapstructure:"video_track"`
	BFrameTrack     string `mapstructure:"bframe_track"`
	StartAt         string `mapstructure:"start_at"`    // live or future
	StartGroup      uint64 `mapstructure:"start_group"` // future only
}

type TransportConfig struct {
	Addr               string        `mapstructure:"addr"`
	ALPN               string        `mapstructure:"alpn"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxIdleTimeout     time.Duration `mapstructure:"max_idle_timeout"`
	KeepAlivePeriod    time.Duration `mapstructure:"keep_alive_period"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	DialRetries        int           `mapstructure:"dial_retries"` // 0 retries forever
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
}

type DecoderConfig struct {
	ReorderDepth int `mapstructure:"reorder_depth"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`     // json or text
	Output     string `mapstructure:"output"`     // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"`   // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// StoreConfig configures the Redis session store.
type StoreConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	TTL          time.Duration `mapstructure:"ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

// Load reads configPath (optional) on top of defaults and MOQPLAY_* env overrides.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	// Defaults always decode.
	_ = newViper().Unmarshal(&cfg)
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("MOQPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	// Player defaults
	v.SetDefault("player.mode", ModeGOP)
	v.SetDefault("player.buffer_ms", 100)
	v.SetDefault("player.reorder_buffer_ms", 200)
	v.SetDefault("player.frame_duration", 512)
	v.SetDefault("player.gop_jump", 512)
	v.SetDefault("player.namespace", "livestream")
	v.SetDefault("player.init_track", "init")
	v.SetDefault("player.video_track", "video")
	v.SetDefault("player.bframe_track", "b-frames")
	v.SetDefault("player.start_at", StartLive)
	v.SetDefault("player.start_group", 0)

	// Transport defaults
	v.SetDefault("transport.addr", "localhost:4443")
	v.SetDefault("transport.alpn", "moq-00")
	v.SetDefault("transport.insecure_skip_verify", false)
	v.SetDefault("transport.max_idle_timeout", "30s")
	v.SetDefault("transport.keep_alive_period", "10s")
	v.SetDefault("transport.dial_timeout", "10s")
	v.SetDefault("transport.dial_retries", 5)
	v.SetDefault("transport.retry_initial_delay", "500ms")
	v.SetDefault("transport.retry_max_delay", "10s")

	// Decoder defaults
	v.SetDefault("decoder.reorder_depth", 4)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Store defaults
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.addresses", []string{"localhost:6379"})
	v.SetDefault("store.db", 0)
	v.SetDefault("store.key_prefix", "moqplay:sessions")
	v.SetDefault("store.ttl", "24h")
	v.SetDefault("store.max_retries", 3)
	v.SetDefault("store.dial_timeout", "5s")
	v.SetDefault("store.read_timeout", "3s")
	v.SetDefault("store.write_timeout", "3s")
	v.SetDefault("store.pool_size", 10)
	v.SetDefault("store.min_idle_conns", 1)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "5s")
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.rate_burst", 100)
	v.SetDefault("api.health_interval", "30s")
}
