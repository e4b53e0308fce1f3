// Package live fans out full board snapshots to watchers. Every message is an
// authoritative replacement, so a slow watcher only ever needs the latest one.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"workboard/api/internal/board"
	"workboard/api/internal/logging"
)

// transport moves encoded snapshots between publishers and subscribers.
type transport interface {
	publish(ctx context.Context, channel string, payload []byte) error
	subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	ping(ctx context.Context) error
	close() error
}

type Broker struct {
	transport   transport
	log         *logging.Logger
	subscribers atomic.Int64
}

func newBroker(t transport, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Broker{transport: t, log: logger.WithComponent("live")}
}

func PeriodsChannel(workspaceID string) string {
	return "workboard:" + workspaceID + ":periods"
}

func BoardChannel(workspaceID, periodID string) string {
	return "workboard:" + workspaceID + ":period:" + periodID
}

// PublishPeriods announces the workspace's period list, newest first.
func (b *Broker) PublishPeriods(ctx context.Context, workspaceID string, periods []board.Period) error {
	return b.publish(ctx, PeriodsChannel(workspaceID), periods)
}

// PublishBoard announces the full record set of one period.
func (b *Broker) PublishBoard(ctx context.Context, workspaceID, periodID string, snapshot board.Board) error {
	return b.publish(ctx, BoardChannel(workspaceID, periodID), snapshot)
}

func (b *Broker) publish(ctx context.Context, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", channel, err)
	}
	if err := b.transport.publish(ctx, channel, raw); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// SubscribePeriods delivers period lists until ctx is cancelled, then closes
// the channel.
func (b *Broker) SubscribePeriods(ctx context.Context, workspaceID string) (<-chan []board.Period, error) {
	return subscribe[[]board.Period](ctx, b, PeriodsChannel(workspaceID))
}

// SubscribeBoard delivers board snapshots until ctx is cancelled, then closes
// the channel.
func (b *Broker) SubscribeBoard(ctx context.Context, workspaceID, periodID string) (<-chan board.Board, error) {
	return subscribe[board.Board](ctx, b, BoardChannel(workspaceID, periodID))
}

func subscribe[T any](ctx context.Context, b *Broker, channel string) (<-chan T, error) {
	raw, err := b.transport.subscribe(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan T, 1)
	b.subscribers.Add(1)
	go func() {
		defer b.subscribers.Add(-1)
		defer close(out)
		for payload := range raw {
			var value T
			if err := json.Unmarshal(payload, &value); err != nil {
				b.log.Warnw("dropping undecodable snapshot", "channel", channel, "error", err)
				continue
			}
			OfferLatest(out, value)
		}
	}()
	return out, nil
}

// Subscribers reports how many subscriptions are open.
func (b *Broker) Subscribers() int64 {
	return b.subscribers.Load()
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.transport.ping(ctx)
}

func (b *Broker) Close() error {
	return b.transport.close()
}

// OfferLatest sends v without blocking, discarding the oldest buffered value
// when out is full. Only the channel's single producer may call it.
func OfferLatest[T any](out chan T, v T) {
	for {
		select {
		case out <- v:
			return
		default:
		}
		select {
		case <-out:
		default:
		}
	}
}
