package dispatcher

import (
	"testing"
	"time"

	"coordinator/internal/config"
)

func TestMemoryConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   MemoryConfig
		want MemoryConfig
	}{
		{
			name: "zero values",
			in:   MemoryConfig{},
			want: MemoryConfig{BufferSize: 10000, Workers: 10, HTTPTimeout: 10 * time.Second, BreakerCooldown: 30 * time.Second},
		},
		{
			name: "negative values",
			in:   MemoryConfig{BufferSize: -1, Workers: -1, HTTPTimeout: -1, BreakerCooldown: -1},
			want: MemoryConfig{BufferSize: 10000, Workers: 10, HTTPTimeout: 10 * time.Second, BreakerCooldown: 30 * time.Second},
		},
		{
			name: "valid values kept",
			in:   MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second, BreakerCooldown: time.Second},
			want: MemoryConfig{BufferSize: 500, Workers: 5, HTTPTimeout: 20 * time.Second, BreakerCooldown: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.in.withDefaults(); got != tt.want {
				t.Errorf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigFrom(t *testing.T) {
	t.Parallel()
	cfg := ConfigFrom(config.DispatcherConfig{BufferSize: 64, Workers: 4})

	if cfg.BufferSize != 64 || cfg.Workers != 4 {
		t.Errorf("ConfigFrom() = %+v", cfg)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want default", cfg.HTTPTimeout)
	}
	if got := cfg.shardSize(); got != 16 {
		t.Errorf("shardSize() = %d, want 16", got)
	}
}

func TestShardSizeNeverZero(t *testing.T) {
	t.Parallel()
	if got := (MemoryConfig{BufferSize: 2, Workers: 10}).shardSize(); got != 1 {
		t.Errorf("shardSize() = %d, want 1", got)
	}
}
