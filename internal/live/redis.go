package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	_ Source    = (*RedisBus)(nil)
	_ Publisher = (*RedisBus)(nil)
)

// RedisBus carries live channels over Redis pub/sub. Each review has one
// channel "<prefix><reviewID>:changes" and a sequence counter
// "<prefix><reviewID>:seq".
type RedisBus struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

// NewRedisBus connects to redisURL and verifies the connection.
func NewRedisBus(redisURL, prefix string, log zerolog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBusWithClient(client, prefix, log), nil
}

func NewRedisBusWithClient(client *redis.Client, prefix string, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		prefix: prefix,
		log:    log.With().Str("component", "live.redis").Logger(),
	}
}

func (b *RedisBus) Channel(reviewID string) string {
	return b.prefix + reviewID + ":changes"
}

func (b *RedisBus) seqKey(reviewID string) string {
	return b.prefix + reviewID + ":seq"
}

// Subscribe opens the review channel and waits for the subscription to be
// confirmed by the server.
func (b *RedisBus) Subscribe(ctx context.Context, reviewID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.Channel(reviewID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.Channel(reviewID), err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Delivery, 64),
		done:   make(chan struct{}),
	}
	go sub.forward(pubsub.Channel())
	b.log.Debug().Str("review_id", reviewID).Msg("live channel subscribed")
	return sub, nil
}

// publishScript takes the next sequence number and publishes under it in one
// step, so channel order always matches sequence order across publishers.
// ARGV[2] is the envelope JSON without a seq field; the script splices the
// sequence in as the first member.
var publishScript = redis.NewScript(`
local seq = redis.call('INCR', KEYS[1])
redis.call('PUBLISH', ARGV[1], '{"seq":' .. seq .. ',' .. string.sub(ARGV[2], 2))
return seq
`)

// Publish increments the review sequence and publishes env under it.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) (int64, error) {
	env.Seq = 0
	data, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("marshal envelope: %w", err)
	}
	channel := b.Channel(env.ReviewID)
	seq, err := publishScript.Run(ctx, b.client, []string{b.seqKey(env.ReviewID)}, channel, string(data)).Int64()
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", channel, err)
	}
	return seq, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Delivery
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) forward(in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Delivery{Data: []byte(msg.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Deliveries() <-chan Delivery {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}
