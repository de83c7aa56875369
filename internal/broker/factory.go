package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects and configures a Broker implementation.
type Config struct {
	Kind        string        `mapstructure:"kind" yaml:"kind"` // redis, memory
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"password"`
	DB          int           `mapstructure:"db" yaml:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// New builds the configured broker. The memory broker only coordinates
// workers running inside the same process.
func New(ctx context.Context, cfg Config) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "memory":
		return NewMemoryBroker(), nil
	case "", "redis":
		dial := cfg.DialTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		return NewRedisBroker(ctx, &redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dial,
		})
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Kind)
	}
}
