package store

import (
	"context"
	"sync"

	apperrors "github.com/sitecrew/worksync/internal/errors"
)

// Memory is an in-process Backend. It can simulate a full or unavailable
// medium, which is how tests exercise storage failures.
type Memory struct {
	mu          sync.RWMutex
	data        map[string][]byte
	quota       int
	used        int
	unavailable bool
	readOnly    bool
}

// NewMemory creates a Memory backend. quota caps the total stored bytes;
// zero means unlimited.
func NewMemory(quota int) *Memory {
	return &Memory{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// SetUnavailable makes reads report absent and writes fail.
func (m *Memory) SetUnavailable(unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = unavailable
}

// SetReadOnly makes writes fail while reads keep working.
func (m *Memory) SetReadOnly(readOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
}

// Bucket returns the store for namespace.
func (m *Memory) Bucket(namespace string) Store {
	return &memoryBucket{mem: m, prefix: namespace + "\x00"}
}

type memoryBucket struct {
	mem    *Memory
	prefix string
}

func (b *memoryBucket) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, _ := b.Load(ctx, key)
	return value, ok
}

func (b *memoryBucket) Load(_ context.Context, key string) ([]byte, bool, error) {
	b.mem.mu.RLock()
	defer b.mem.mu.RUnlock()

	if b.mem.unavailable {
		return nil, false, apperrors.New(apperrors.ErrStorage, "storage unavailable")
	}
	value, ok := b.mem.data[b.prefix+key]
	if !ok {
		return nil, false, nil
	}
	dup := make([]byte, len(value))
	copy(dup, value)
	return dup, true, nil
}

func (b *memoryBucket) Set(_ context.Context, key string, value []byte) error {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	if b.mem.unavailable {
		return apperrors.New(apperrors.ErrStorage, "storage unavailable")
	}
	if b.mem.readOnly {
		return apperrors.New(apperrors.ErrStorage, "storage is read-only")
	}

	full := b.prefix + key
	used := b.mem.used - len(b.mem.data[full]) + len(value)
	if b.mem.quota > 0 && used > b.mem.quota {
		return apperrors.Newf(apperrors.ErrStorage, "storage quota exceeded (%d > %d bytes)", used, b.mem.quota)
	}

	dup := make([]byte, len(value))
	copy(dup, value)
	b.mem.data[full] = dup
	b.mem.used = used
	return nil
}
