package live

import (
	"context"
	"sync"

	"workboard/api/internal/logging"
)

// NewMemory returns a broker that fans out within this process only.
func NewMemory(logger *logging.Logger) *Broker {
	return newBroker(&memoryTransport{channels: map[string]map[int]chan []byte{}}, logger)
}

type memoryTransport struct {
	mu       sync.Mutex
	nextID   int
	channels map[string]map[int]chan []byte
	closed   bool
}

// publish holds the write lock so concurrent publishers are serialised and
// each subscriber sees snapshots in publish order.
func (m *memoryTransport) publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels[channel] {
		OfferLatest(ch, payload)
	}
	return nil
}

func (m *memoryTransport) subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, nil
	}
	id := m.nextID
	m.nextID++
	if m.channels[channel] == nil {
		m.channels[channel] = map[int]chan []byte{}
	}
	m.channels[channel][id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.channels[channel]; ok {
			if _, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(m.channels, channel)
			}
		}
	}()
	return ch, nil
}

func (m *memoryTransport) ping(context.Context) error {
	return nil
}

func (m *memoryTransport) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, subs := range m.channels {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(m.channels, channel)
	}
	m.closed = true
	return nil
}
