package config

import (
	"fmt"
	"net"
)

func (c *Config) Validate() error {
	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api config: %w", err)
	}

	if c.Metrics.Enabled && c.API.Enabled && c.Metrics.Port == c.API.Port {
		return fmt.Errorf("metrics and api cannot share port %d", c.API.Port)
	}

	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.Mode != ModeGOP && p.Mode != ModeBFrame {
		return fmt.Errorf("mode must be '%s' or '%s'", ModeGOP, ModeBFrame)
	}

	if p.BufferMs <= 0 {
		return fmt.Errorf("buffer_ms must be positive")
	}

	if p.Mode == ModeBFrame && p.ReorderBufferMs <= 0 {
		return fmt.Errorf("reorder_buffer_ms must be positive in bframe mode")
	}

	if p.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive")
	}

	if p.GOPJump < 0 {
		return fmt.Errorf("gop_jump cannot be negative")
	}

	if p.Namespace == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	if p.InitTrack == "" || p.VideoTrack == "" {
		return fmt.Errorf("init_track and video_track are required")
	}

	if p.Mode == ModeBFrame && p.BFrameTrack == "" {
		return fmt.Errorf("bframe_track is required in bframe mode")
	}

	if p.StartAt != StartLive && p.StartAt != StartFuture {
		return fmt.Errorf("start_at must be '%s' or '%s'", StartLive, StartFuture)
	}

	return nil
}

func (t *TransportConfig) Validate() error {
	if _, _, err := net.SplitHostPort(t.Addr); err != nil {
		return fmt.Errorf("invalid addr %q: %w", t.Addr, err)
	}

	if t.ALPN == "" {
		return fmt.Errorf("alpn cannot be empty")
	}

	if t.MaxIdleTimeout < 0 || t.KeepAlivePeriod < 0 || t.DialTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}

	if t.DialRetries < 0 {
		return fmt.Errorf("dial_retries cannot be negative")
	}

	if t.RetryInitialDelay <= 0 || t.RetryMaxDelay < t.RetryInitialDelay {
		return fmt.Errorf("retry delays must be positive with retry_max_delay >= retry_initial_delay")
	}

	return nil
}

func (d *DecoderConfig) Validate() error {
	if d.ReorderDepth < 1 {
		return fmt.Errorf("reorder_depth must be at least 1")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (s *StoreConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if len(s.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if s.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", s.DB)
	}

	if s.KeyPrefix == "" {
		return fmt.Errorf("key_prefix cannot be empty")
	}

	if s.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if s.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if s.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if s.MinIdleConns > s.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (a *APIConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", a.Port)
	}

	if a.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if a.RateLimit > 0 && a.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be at least 1 when rate limiting is enabled")
	}

	return nil
}
