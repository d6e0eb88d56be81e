package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	"github.com/redis/go-redis/v9"
)

// -----------------------------------------------------------------------------
// RedisBroker - distributed pub/sub backend for horizontal scaling.
//
// Delivery across process boundaries is at-most-once: Redis Pub/Sub does not
// retain messages for absent subscribers, and a consumer that falls behind
// its socket buffer loses messages. Ordering per channel is best-effort, not
// guaranteed, when multiple publisher processes share one channel.
// -----------------------------------------------------------------------------

type RedisBroker struct {
	Config models.MBrokerConfig
	Logger *logger.Logger

	mu     sync.Mutex
	client *redis.Client
	subs   map[string]*redisSubscription
	nextID uint64
}

// -----------------------------------------------------------------------------

type redisSubscription struct {
	id      string
	channel string
	pubsub  *redis.PubSub
	done    chan struct{}
}

func (s *redisSubscription) ID() string {
	return s.id
}

func (s *redisSubscription) Channel() string {
	return s.channel
}

// -----------------------------------------------------------------------------

func NewRedisBroker(cfg models.MBrokerConfig, log *logger.Logger) *RedisBroker {
	return &RedisBroker{
		Config: cfg,
		Logger: log,
		subs:   make(map[string]*redisSubscription),
	}
}

// -----------------------------------------------------------------------------

func (b *RedisBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     b.Config.RedisAddr,
		Password: b.Config.RedisPassword,
		DB:       b.Config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return helpers.NewBrokerError(fmt.Sprintf("failed to connect to redis at %s", b.Config.RedisAddr), err)
	}

	b.client = client
	b.Logger.Info("Connected to redis broker at %s (db %d)", b.Config.RedisAddr, b.Config.RedisDB)
	return nil
}

// -----------------------------------------------------------------------------

func (b *RedisBroker) Disconnect() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*redisSubscription)
	client := b.client
	b.client = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.pubsub.Close()
		<-sub.done
	}
	if client != nil {
		return client.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

func (b *RedisBroker) Publish(channel string, payload []byte) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if client == nil {
		return helpers.NewBrokerError("publish on disconnected broker", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return helpers.NewBrokerError(fmt.Sprintf("redis publish to %s failed", channel), err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (b *RedisBroker) Subscribe(channel string, handler interfaces.BrokerHandler) (interfaces.ISubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, helpers.NewBrokerError("subscribe on disconnected broker", nil)
	}

	pubsub := b.client.Subscribe(context.Background(), channel)

	// Force the subscription onto the wire before returning so a publish
	// immediately after Subscribe is not silently missed.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, helpers.NewBrokerError(fmt.Sprintf("redis subscribe to %s failed", channel), err)
	}

	b.nextID++
	sub := &redisSubscription{
		id:      fmt.Sprintf("%s#%d", channel, b.nextID),
		channel: channel,
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			handler(channel, []byte(msg.Payload))
		}
	}()

	return sub, nil
}

// -----------------------------------------------------------------------------

func (b *RedisBroker) Unsubscribe(sub interfaces.ISubscription) error {
	b.mu.Lock()
	rs, ok := b.subs[sub.ID()]
	if ok {
		delete(b.subs, sub.ID())
	}
	b.mu.Unlock()

	if !ok {
		return helpers.NewBrokerError(fmt.Sprintf("unknown subscription %s", sub.ID()), nil)
	}

	if err := rs.pubsub.Close(); err != nil {
		return helpers.NewBrokerError(fmt.Sprintf("failed to close subscription %s", sub.ID()), err)
	}
	<-rs.done
	return nil
}
