package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// FeedManager tracks open websocket progress feeds per job.
type FeedManager struct {
	mu     sync.Mutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewFeedManager creates an empty manager.
func NewFeedManager() *FeedManager {
	return &FeedManager{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn as a feed for jobID.
func (m *FeedManager) Register(jobID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[jobID]; !ok {
		m.active[jobID] = make(map[*websocket.Conn]struct{})
	}
	m.active[jobID][conn] = struct{}{}
	slog.Debug("progress feed registered", "job_id", jobID)
}

// Unregister removes conn.
func (m *FeedManager) Unregister(jobID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conns, ok := m.active[jobID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, jobID)
		}
	}
}

// Count returns the number of open feeds for jobID.
func (m *FeedManager) Count(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active[jobID])
}

// CloseJob closes every feed for jobID, e.g. after the notebook is deleted.
func (m *FeedManager) CloseJob(jobID string) {
	m.mu.Lock()
	conns := m.active[jobID]
	delete(m.active, jobID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "notebook deleted")
	}
}

// CloseAll closes every feed.
func (m *FeedManager) CloseAll() {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]map[*websocket.Conn]struct{})
	m.mu.Unlock()

	for jobID, conns := range all {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		slog.Info("progress feeds closed", "job_id", jobID, "count", len(conns))
	}
}
