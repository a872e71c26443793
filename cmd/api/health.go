package main

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-chat/internal/handler"
)

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) []handler.Probe {
	probes := []handler.Probe{
		{Name: "postgres", Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	}

	if natsConn != nil {
		probes = append(probes, handler.Probe{Name: "nats", Check: func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New(natsConn.Status().String())
			}
			return nil
		}})
	}

	return probes
}
