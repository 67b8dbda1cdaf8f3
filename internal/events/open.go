package events

import (
	"context"
	"fmt"
	"strings"
)

// 支持的事件驱动。
const (
	DriverNone     = "none"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverAll      = "all"
)

// Config 描述事件发布配置。
type Config struct {
	Driver   string
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
}

// Open 根据配置创建发布器。未配置驱动时返回 Nop。
func Open(ctx context.Context, cfg Config) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverNone:
		return Nop{}, nil
	case DriverRedis:
		return NewRedisPublisher(ctx, cfg.Redis)
	case DriverRabbitMQ:
		return NewRabbitMQPublisher(cfg.RabbitMQ)
	case DriverAll:
		rp, err := NewRedisPublisher(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		mq, err := NewRabbitMQPublisher(cfg.RabbitMQ)
		if err != nil {
			rp.Close()
			return nil, err
		}
		return NewFanout(rp, mq), nil
	default:
		return nil, fmt.Errorf("未知的事件驱动 %q", cfg.Driver)
	}
}
