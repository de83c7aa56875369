package broker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errBrokerClosed    = errors.New("broker closed")
	errSimulatedOutage = errors.New("simulated outage")
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBroker is an in-process Broker for tests and single-process runs.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string][][]byte
	signals     map[string]chan struct{}
	keys        map[string]memoryEntry
	now         func() time.Time
	unavailable bool
	closed      bool
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker returns an empty broker using the wall clock.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:  make(map[string][][]byte),
		signals: make(map[string]chan struct{}),
		keys:    make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the clock used for key expiry.
func (b *MemoryBroker) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// SetUnavailable makes every operation fail with ErrUnavailable while down is true.
func (b *MemoryBroker) SetUnavailable(down bool) {
	b.mu.Lock()
	b.unavailable = down
	b.mu.Unlock()
}

// Len reports the number of queued messages.
func (b *MemoryBroker) Len(queueKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queueKey])
}

func (b *MemoryBroker) checkLocked(op string) error {
	if b.closed {
		return unavailable(op, errBrokerClosed)
	}
	if b.unavailable {
		return unavailable(op, errSimulatedOutage)
	}
	return nil
}

// Enqueue appends message to the tail of queueKey.
func (b *MemoryBroker) Enqueue(ctx context.Context, queueKey string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("enqueue"); err != nil {
		return err
	}
	b.queues[queueKey] = append(b.queues[queueKey], append([]byte(nil), message...))
	if ch, ok := b.signals[queueKey]; ok {
		close(ch)
		delete(b.signals, queueKey)
	}
	return nil
}

// Dequeue pops the head of queueKey, waiting up to blockTimeout.
func (b *MemoryBroker) Dequeue(ctx context.Context, queueKey string, blockTimeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(blockTimeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if err := b.checkLocked("dequeue"); err != nil {
			b.mu.Unlock()
			return nil, err
		}
		if queue := b.queues[queueKey]; len(queue) > 0 {
			msg := queue[0]
			b.queues[queueKey] = queue[1:]
			b.mu.Unlock()
			return msg, nil
		}
		signal, ok := b.signals[queueKey]
		if !ok {
			signal = make(chan struct{})
			b.signals[queueKey] = signal
		}
		b.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return nil, ErrNoMessage
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PutResult stores value under resultKey for ttl.
func (b *MemoryBroker) PutResult(ctx context.Context, resultKey string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("put result"); err != nil {
		return err
	}
	b.keys[resultKey] = memoryEntry{value: append([]byte(nil), value...), expiresAt: b.now().Add(ttl)}
	return nil
}

// GetResult returns the live value stored under resultKey.
func (b *MemoryBroker) GetResult(ctx context.Context, resultKey string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("get result"); err != nil {
		return nil, err
	}
	entry, ok := b.liveLocked(resultKey)
	if !ok {
		return nil, ErrNoMessage
	}
	return append([]byte(nil), entry.value...), nil
}

// Claim stores value under key if no live entry exists.
func (b *MemoryBroker) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked("claim"); err != nil {
		return false, err
	}
	if _, ok := b.liveLocked(key); ok {
		return false, nil
	}
	b.keys[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: b.now().Add(ttl)}
	return true, nil
}

func (b *MemoryBroker) liveLocked(key string) (memoryEntry, bool) {
	entry, ok := b.keys[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !b.now().Before(entry.expiresAt) {
		delete(b.keys, key)
		return memoryEntry{}, false
	}
	return entry, true
}

// Close makes further operations fail with ErrUnavailable.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
