package chrono

import (
	"sync"
	"time"
)

// TimeAPI is the source of wall-clock time for anything that stamps or
// compares persisted timestamps.
type TimeAPI interface {
	Now() time.Time
}

// StandardImpl reads the system clock in UTC so timestamps written to the
// cache compare the same regardless of the host timezone.
type StandardImpl struct{}

func NewStandardImpl() StandardImpl {
	return StandardImpl{}
}

func (StandardImpl) Now() time.Time {
	return time.Now().UTC()
}

// ManualImpl is a clock that only moves when told to.
type ManualImpl struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualImpl(now time.Time) *ManualImpl {
	return &ManualImpl{now: now}
}

func (m *ManualImpl) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualImpl) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *ManualImpl) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
