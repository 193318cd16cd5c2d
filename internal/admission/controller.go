// SPDX-License-Identifier: MIT

// Package admission gates new stream connections and keeps the only mutable
// shared state of the engine: the live-connection table and its counters.
package admission

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhq/beacon/internal/metrics"
)

// DefaultMaxPerOrg is the per-organization connection ceiling used when the
// controller is constructed with a non-positive limit.
const DefaultMaxPerOrg = 50

// ErrConnectionLimit is returned when an organization is at its ceiling.
var ErrConnectionLimit = errors.New("organization connection limit exceeded")

// Ticket is the capability returned by a successful admission. It carries
// the generated client ID and must be released exactly once at teardown;
// extra releases are no-ops.
type Ticket struct {
	ClientID       string
	UserID         string
	OrganizationID string
	ConnectedAt    time.Time
}

// ClientInfo is a point-in-time view of one live connection.
type ClientInfo struct {
	ClientID           string    `json:"clientId"`
	UserID             string    `json:"userId"`
	OrganizationID     string    `json:"organizationId,omitempty"`
	ConnectedAt        time.Time `json:"connectedAt"`
	ConnectionDuration int64     `json:"connectionDuration"` // milliseconds
}

// Stats are the raw engine counters.
type Stats struct {
	TotalConnections   uint64     `json:"totalConnections"`
	CurrentConnections int        `json:"currentConnections"`
	ErrorCount         uint64     `json:"errorCount"`
	LastConnectionTime *time.Time `json:"lastConnectionTime,omitempty"`
}

// Snapshot is a consistent copy of the live-connection state.
type Snapshot struct {
	Clients          []ClientInfo
	ConnectionsByOrg map[string]int
	Stats            Stats
}

// Controller enforces the per-organization connection ceiling and tracks
// every live connection. A single mutex serializes check-then-increment so
// concurrent admissions cannot exceed the ceiling.
type Controller struct {
	mu        sync.Mutex
	maxPerOrg int
	byOrg     map[string]int
	clients   map[string]ClientInfo

	totalConnections uint64
	errorCount       uint64
	lastConnection   time.Time
}

// NewController constructs a controller with the given per-organization ceiling.
func NewController(maxPerOrg int) *Controller {
	if maxPerOrg <= 0 {
		maxPerOrg = DefaultMaxPerOrg
	}
	return &Controller{
		maxPerOrg: maxPerOrg,
		byOrg:     make(map[string]int),
		clients:   make(map[string]ClientInfo),
	}
}

// Admit checks the ceiling for the candidate identity and, on success,
// registers the connection and returns its ticket. Identities without an
// organization are never ceiling-rejected. A rejected attempt increments the
// error counter and is final; the caller may simply try again later.
func (c *Controller) Admit(userID, orgID string) (*Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if orgID != "" && c.byOrg[orgID] >= c.maxPerOrg {
		c.errorCount++
		metrics.IncRejected("connection_limit")
		return nil, ErrConnectionLimit
	}

	now := time.Now().UTC()
	t := &Ticket{
		ClientID:       uuid.New().String(),
		UserID:         userID,
		OrganizationID: orgID,
		ConnectedAt:    now,
	}

	if orgID != "" {
		c.byOrg[orgID]++
		metrics.ConnectionsByOrg.WithLabelValues(orgID).Inc()
	}
	c.clients[t.ClientID] = ClientInfo{
		ClientID:       t.ClientID,
		UserID:         userID,
		OrganizationID: orgID,
		ConnectedAt:    now,
	}
	c.totalConnections++
	c.lastConnection = now
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()

	return t, nil
}

// Release tears down the bookkeeping for a ticket. Idempotent: releasing a
// ticket that is already gone does nothing, so a double teardown never
// double-decrements.
func (c *Controller) Release(t *Ticket) {
	if t == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.clients[t.ClientID]; !ok {
		return
	}
	delete(c.clients, t.ClientID)
	metrics.ConnectionsCurrent.Dec()

	if t.OrganizationID != "" {
		if n := c.byOrg[t.OrganizationID]; n > 1 {
			c.byOrg[t.OrganizationID] = n - 1
			metrics.ConnectionsByOrg.WithLabelValues(t.OrganizationID).Dec()
		} else {
			// Drop the key entirely so churned organizations do not grow the map.
			delete(c.byOrg, t.OrganizationID)
			metrics.ConnectionsByOrg.DeleteLabelValues(t.OrganizationID)
		}
	}
}

// RecordError bumps the error counter. Used by the control surface for
// authentication failures, which share the counter with ceiling rejections.
func (c *Controller) RecordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// Stats returns the raw counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Controller) statsLocked() Stats {
	s := Stats{
		TotalConnections:   c.totalConnections,
		CurrentConnections: len(c.clients),
		ErrorCount:         c.errorCount,
	}
	if !c.lastConnection.IsZero() {
		t := c.lastConnection
		s.LastConnectionTime = &t
	}
	return s
}

// Snapshot returns a point-in-time copy of the live-connection state.
// Connection durations are derived at snapshot time.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	clients := make([]ClientInfo, 0, len(c.clients))
	for _, ci := range c.clients {
		ci.ConnectionDuration = now.Sub(ci.ConnectedAt).Milliseconds()
		clients = append(clients, ci)
	}
	byOrg := make(map[string]int, len(c.byOrg))
	for org, n := range c.byOrg {
		byOrg[org] = n
	}
	return Snapshot{
		Clients:          clients,
		ConnectionsByOrg: byOrg,
		Stats:            c.statsLocked(),
	}
}
