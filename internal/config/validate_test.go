package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPlayer() PlayerConfig {
	return Default().Player
}

func TestPlayerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *PlayerConfig)
		wantErr bool
		errMsg  string
	}{
		{name: "valid config", mutate: func(p *PlayerConfig) {}},
		{
			name:    "unknown mode",
			mutate:  func(p *PlayerConfig) { p.Mode = "hls" },
			wantErr: true,
			errMsg:  "mode must be",
		},
		{
			name:    "zero buffer",
			mutate:  func(p *PlayerConfig) { p.BufferMs = 0 },
			wantErr: true,
			errMsg:  "buffer_ms must be positive",
		},
		{
			name:    "bframe mode without reorder window",
			mutate:  func(p *PlayerConfig) { p.Mode = ModeBFrame; p.ReorderBufferMs = 0 },
			wantErr: true,
			errMsg:  "reorder_buffer_ms",
		},
		{
			name:   "gop mode ignores reorder window",
			mutate: func(p *PlayerConfig) { p.ReorderBufferMs = 0 },
		},
		{
			name:    "zero frame duration",
			mutate:  func(p *PlayerConfig) { p.FrameDuration = 0 },
			wantErr: true,
			errMsg:  "frame_duration",
		},
		{
			name:    "missing bframe track",
			mutate:  func(p *PlayerConfig) { p.Mode = ModeBFrame; p.BFrameTrack = "" },
			wantErr: true,
			errMsg:  "bframe_track",
		},
		{
			name:    "bad start",
			mutate:  func(p *PlayerConfig) { p.StartAt = "past" },
			wantErr: true,
			errMsg:  "start_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlayer()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStoreConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  StoreConfig
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: StoreConfig{
				Enabled:      true,
				Addresses:    []string{"localhost:6379"},
				KeyPrefix:    "moqplay:sessions",
				TTL:          3600e9,
				PoolSize:     10,
				MinIdleConns: 1,
			},
		},
		{
			name:   "disabled",
			config: StoreConfig{},
		},
		{
			name: "negative DB",
			config: StoreConfig{
				Enabled:   true,
				Addresses: []string{"localhost:6379"},
				DB:        -1,
			},
			wantErr: true,
			errMsg:  "invalid Redis database number",
		},
		{
			name: "zero ttl",
			config: StoreConfig{
				Enabled:   true,
				Addresses: []string{"localhost:6379"},
				KeyPrefix: "p",
				PoolSize:  10,
			},
			wantErr: true,
			errMsg:  "ttl must be positive",
		},
		{
			name: "min idle conns greater than pool size",
			config: StoreConfig{
				Enabled:      true,
				Addresses:    []string{"localhost:6379"},
				KeyPrefix:    "p",
				TTL:          1e9,
				PoolSize:     10,
				MinIdleConns: 20,
			},
			wantErr: true,
			errMsg:  "min_idle_conns cannot be greater than pool_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoggingConfigValidate(t *testing.T) {
	assert.NoError(t, (&LoggingConfig{Level: "info", Format: "json", Output: "stdout"}).Validate())
	assert.Error(t, (&LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"}).Validate())
	assert.Error(t, (&LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}).Validate())
	assert.Error(t, (&LoggingConfig{Level: "info", Format: "json", Output: "/var/log/p.log"}).Validate())
}

func TestMetricsAndAPIConfigValidate(t *testing.T) {
	assert.NoError(t, (&MetricsConfig{}).Validate())
	assert.Error(t, (&MetricsConfig{Enabled: true, Port: 0, Path: "/metrics"}).Validate())
	assert.Error(t, (&MetricsConfig{Enabled: true, Port: 9090}).Validate())
	assert.NoError(t, (&APIConfig{}).Validate())
	assert.Error(t, (&APIConfig{Enabled: true, Port: 70000}).Validate())
	assert.Error(t, (&APIConfig{Enabled: true, Port: 8080, RateLimit: -1}).Validate())
	assert.Error(t, (&APIConfig{Enabled: true, Port: 8080, RateLimit: 10}).Validate())
	assert.NoError(t, (&APIConfig{Enabled: true, Port: 8080, RateLimit: 10, RateBurst: 20}).Validate())
}
