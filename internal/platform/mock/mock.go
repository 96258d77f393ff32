// Package mock provides a mock implementation of the platform.Platform interface for testing.
package mock

import (
	"sync"
	"time"

	"github.com/ajaxzhan/sandbox-memfs/pkg/types"
)

// DefaultUID and DefaultGID are the identity a new MockPlatform reports.
const (
	DefaultUID = 1000
	DefaultGID = 1000
)

// Epoch is the initial time of a new MockPlatform's clock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// MockPlatform is a deterministic platform.Platform for testing.
type MockPlatform struct {
	mu       sync.RWMutex
	identity types.Identity
	now      time.Time
	tick     time.Duration

	// Hooks for customizing behavior in tests
	OnIdentity func() types.Identity
	OnNow      func() time.Time
}

// New creates a new MockPlatform reporting an unprivileged identity and a
// clock that starts at Epoch and stays there until advanced.
func New() *MockPlatform {
	return &MockPlatform{
		identity: types.Identity{UID: DefaultUID, GID: DefaultGID},
		now:      Epoch,
	}
}

// Name returns the name of this platform implementation.
func (m *MockPlatform) Name() string {
	return "mock"
}

// Identity returns the configured identity.
func (m *MockPlatform) Identity() types.Identity {
	if m.OnIdentity != nil {
		return m.OnIdentity()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// SetIdentity changes the identity reported from now on.
func (m *MockPlatform) SetIdentity(id types.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = id
}

// Now returns the mock clock, then moves it forward by the auto tick.
func (m *MockPlatform) Now() time.Time {
	if m.OnNow != nil {
		return m.OnNow()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.tick)
	return now
}

// Advance moves the clock forward by d.
func (m *MockPlatform) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SetAutoTick makes every call to Now advance the clock by d afterwards.
// Zero disables it.
func (m *MockPlatform) SetAutoTick(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = d
}
