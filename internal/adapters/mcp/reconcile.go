package mcp

import (
	"time"

	"github.com/longregen/mcphub/internal/domain/models"
	"github.com/longregen/mcphub/internal/logging"
)

const connectionLostMessage = "connection lost"

// ReconcileResult is the persisted status a read path should report and
// write back. Changed is set when it differs from what was persisted.
type ReconcileResult struct {
	Status          models.ConnectionStatus
	LastError       string
	LastConnectedAt *time.Time
	Changed         bool
}

// Apply copies the reconciled values onto server
func (r ReconcileResult) Apply(server *models.MCPServer) {
	server.ConnectionStatus = r.Status
	server.LastError = r.LastError
	server.LastConnectedAt = r.LastConnectedAt
}

// Reconcile compares the persisted status of server with the live state of
// its owner's connection. The live observation always wins. An entry that
// believes it is connected while its client reports otherwise is moved to
// error so the manager and the store agree afterwards.
func (m *Manager) Reconcile(server *models.MCPServer) ReconcileResult {
	live := m.observe(OwnerKey(server))

	result := ReconcileResult{
		Status:          live.Status,
		LastError:       live.LastError,
		LastConnectedAt: server.LastConnectedAt,
	}
	if live.LastConnectedAt != nil {
		result.LastConnectedAt = live.LastConnectedAt
	}

	result.Changed = result.Status != server.ConnectionStatus ||
		result.LastError != server.LastError ||
		!sameTime(result.LastConnectedAt, server.LastConnectedAt)
	return result
}

// observe reads the live state of key without resetting its idle timer,
// demoting a connected entry whose client has gone away
func (m *Manager) observe(key Key) Status {
	mc := m.get(key)
	if mc == nil {
		return unmanagedStatus(key)
	}

	mc.mu.Lock()
	if mc.busy || mc.status != models.ConnectionStatusConnected || mc.client == nil || mc.client.IsConnected() {
		st := mc.snapshotLocked()
		mc.mu.Unlock()
		return st
	}

	client := mc.client
	mc.client = nil
	mc.tools = nil
	mc.toolError = ""
	mc.lastError = connectionLostMessage
	change := mc.transitionLocked(models.ConnectionStatusError)
	mc.mu.Unlock()

	m.logger.Warn("connection lost", logging.KeyKey, key.String())
	m.closeClient(key, client)
	m.emit(change)
	return change.Status
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
