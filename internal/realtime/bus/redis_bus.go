package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/podscribe-backend/internal/platform/envutil"
	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

const channelPrefix = "ws:"

type redisBus struct {
	log *logger.Logger
	rdb *goredis.Client
}

// NewRedisBus connects using REDIS_URL, falling back to REDIS_ADDR.
func NewRedisBus(log *logger.Logger) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts, err := redisOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisBusFromClient(rdb, log), nil
}

func NewRedisBusFromClient(rdb *goredis.Client, log *logger.Logger) Bus {
	if log == nil {
		log = logger.Nop()
	}
	return &redisBus{log: log.With("service", "RedisBus"), rdb: rdb}
}

func redisOptionsFromEnv() (*goredis.Options, error) {
	if url := envutil.String("REDIS_URL", ""); url != "" {
		opts, err := goredis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts.DialTimeout = 5 * time.Second
		return opts, nil
	}
	addr := envutil.String("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_URL or REDIS_ADDR")
	}
	return &goredis.Options{Addr: addr, DialTimeout: 5 * time.Second}, nil
}

// Publish sends the message payload on "ws:<channel>".
func (b *redisBus) Publish(ctx context.Context, msg realtime.Message) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := msg.Payload()
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelPrefix+msg.Channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				msg, err := decodePayload(m.Channel, m.Payload)
				if err != nil {
					b.log.Warn("bad redis realtime payload", "channel", m.Channel, "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}

// decodePayload rebuilds a Message from a raw pub/sub delivery. The event
// name is read from the payload's "type" field.
func decodePayload(redisChannel, payload string) (realtime.Message, error) {
	raw := json.RawMessage(payload)
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return realtime.Message{}, err
	}
	return realtime.Message{
		Channel: strings.TrimPrefix(redisChannel, channelPrefix),
		Event:   head.Type,
		Data:    raw,
	}, nil
}
