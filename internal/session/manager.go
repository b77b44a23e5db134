package session

import "sync"

// Manager hands out one Controller per user id, creating it on first use.
type Manager struct {
	mu          sync.Mutex
	store       Store
	timeSource  TimeSource
	controllers map[string]*Controller
}

// NewManager creates a Manager with the real clock.
func NewManager(store Store) *Manager {
	return NewManagerWithDeps(store, &defaultTimeSource{})
}

// NewManagerWithDeps creates a Manager with a custom time source for testing.
func NewManagerWithDeps(store Store, timeSrc TimeSource) *Manager {
	return &Manager{
		store:       store,
		timeSource:  timeSrc,
		controllers: make(map[string]*Controller),
	}
}

// Get returns the controller for a user, creating one if none exists yet.
func (m *Manager) Get(userID string) *Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctrl, ok := m.controllers[userID]; ok {
		return ctrl
	}
	ctrl := NewControllerWithDeps(m.store, userID, m.timeSource)
	m.controllers[userID] = ctrl
	return ctrl
}
