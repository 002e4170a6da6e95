package pushbus

import (
	"context"
	"fmt"
	"log/slog"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-ipcbridge/v1/config"
)

// Open builds the Bus selected by cfg.Backend.
func Open(ctx context.Context, cfg config.PushBusConfig, log *slog.Logger) (Bus, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, cfg.Topic, log), nil
	case "nats":
		conn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
		}
		return NewNATS(conn, cfg.Topic, log), nil
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.Topic, sarama.NewConfig(), log)
	}
	return nil, fmt.Errorf("unknown push bus backend %q", cfg.Backend)
}
