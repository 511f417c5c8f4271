package coordination

import (
	"context"
	"errors"
	"sync"
)

// Transport is a best-effort publish/subscribe channel scoped to one
// coordination topic. Delivery and ordering across subscribers are not guaranteed.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context) (<-chan []byte, error)
	Close() error
}

var ErrTransportClosed = errors.New("coordination transport closed")

const memoryBufferSize = 64

// MemoryBus fans messages out between transports living in the same process.
// A member never receives its own messages.
type MemoryBus struct {
	mu      sync.RWMutex
	members map[*MemoryTransport]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{members: make(map[*MemoryTransport]struct{})}
}

// Join attaches a new transport to the bus.
func (b *MemoryBus) Join() *MemoryTransport {
	t := &MemoryTransport{bus: b, inbox: make(chan []byte, memoryBufferSize)}
	b.mu.Lock()
	b.members[t] = struct{}{}
	b.mu.Unlock()
	return t
}

func (b *MemoryBus) publish(from *MemoryTransport, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.members[from]; !ok {
		return ErrTransportClosed
	}
	for m := range b.members {
		if m == from {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case m.inbox <- msg:
		default:
			// full inbox: drop, delivery is best-effort
		}
	}
	return nil
}

func (b *MemoryBus) leave(t *MemoryTransport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.members[t]; !ok {
		return false
	}
	delete(b.members, t)
	close(t.inbox)
	return true
}

// MemoryTransport is one member of a MemoryBus.
type MemoryTransport struct {
	bus   *MemoryBus
	inbox chan []byte
	once  sync.Once
	subd  bool
	mu    sync.Mutex
}

func (t *MemoryTransport) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.bus.publish(t, payload)
}

// Subscribe returns the member inbox. Only one subscription per transport is allowed.
func (t *MemoryTransport) Subscribe(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subd {
		return nil, errors.New("memory transport already subscribed")
	}
	t.subd = true
	return t.inbox, nil
}

func (t *MemoryTransport) Close() error {
	t.once.Do(func() {
		t.bus.leave(t)
	})
	return nil
}
