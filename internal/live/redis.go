package live

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"workboard/api/internal/logging"
)

// NewRedis connects to Redis and returns a broker that fans out across every
// API instance sharing it.
func NewRedis(redisURL string, logger *logging.Logger) (*Broker, error) {
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

	return NewRedisWithClient(client, logger), nil
}

// NewRedisWithClient builds a broker on an existing client. Closing the
// broker closes the client.
func NewRedisWithClient(client *redis.Client, logger *logging.Logger) *Broker {
	return newBroker(&redisTransport{client: client}, logger)
}

type redisTransport struct {
	client *redis.Client
}

func (r *redisTransport) publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *redisTransport) subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for the confirmation so nothing published after we return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan []byte, 1)
	messages := pubsub.Channel()
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				OfferLatest(out, []byte(msg.Payload))
			}
		}
	}()
	return out, nil
}

func (r *redisTransport) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisTransport) close() error {
	return r.client.Close()
}
