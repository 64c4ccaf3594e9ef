package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cityclaims/cityclaims/internal/logging"
	"github.com/cityclaims/cityclaims/internal/util"
)

const DefaultRedisChannel = "cityclaims:verification"

// RedisConfig configures the Redis pub/sub bus. URL takes precedence over
// Addr, Password and DB.
type RedisConfig struct {
	URL         string
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// RedisBus broadcasts messages over a Redis pub/sub channel
type RedisBus struct {
	client  *redis.Client
	channel string
	closed  atomic.Bool

	mu   sync.Mutex
	subs map[*redis.PubSub]<-chan struct{}
}

// NewRedisBus connects to Redis and verifies the connection
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	result := util.Retry(ctx, &util.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if result.LastError != nil {
		_ = client.Close()
		target := cfg.Addr
		if cfg.URL != "" {
			target = logging.RedactURL(cfg.URL)
		}
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", target, result.LastError)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultRedisChannel
	}
	logging.Info("connected to redis bus",
		logging.Component("bus"),
		"addr", opts.Addr,
		"channel", channel)

	return &RedisBus{
		client:  client,
		channel: channel,
		subs:    make(map[*redis.PubSub]<-chan struct{}),
	}, nil
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url %s: %w", logging.RedactURL(cfg.URL), err)
		}
		opts = parsed
	} else {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address cannot be empty")
		}
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	opts.DialTimeout = cfg.DialTimeout
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return opts, nil
}

// Publish sends msg to every subscriber of the channel
func (r *RedisBus) Publish(ctx context.Context, msg Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Subscribe starts a pump goroutine delivering messages from other senders
func (r *RedisBus) Subscribe(selfID string, h Handler) (func(), error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ps := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription confirmation so no message published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	ch := ps.Channel()
	done := util.SafeGoWithName("redis-bus-pump", func() {
		for m := range ch {
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				logging.Warn("dropping malformed bus message",
					logging.Component("bus"),
					logging.Err(err))
				continue
			}
			if msg.SenderID == selfID {
				continue
			}
			h(msg)
		}
	})

	r.mu.Lock()
	r.subs[ps] = done
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.unsubscribe(ps) })
	}, nil
}

func (r *RedisBus) unsubscribe(ps *redis.PubSub) {
	r.mu.Lock()
	done, ok := r.subs[ps]
	delete(r.subs, ps)
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		logging.Debug("closing redis subscription", logging.Component("bus"), logging.Err(err))
	}
	<-done
}

// Close stops every subscription and the client
func (r *RedisBus) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.mu.Lock()
	subs := make([]*redis.PubSub, 0, len(r.subs))
	for ps := range r.subs {
		subs = append(subs, ps)
	}
	r.mu.Unlock()

	for _, ps := range subs {
		r.unsubscribe(ps)
	}
	return r.client.Close()
}
