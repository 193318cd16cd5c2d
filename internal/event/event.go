// SPDX-License-Identifier: MIT

// Package event defines the broadcast event model and its delivery scoping rules.
package event

import "time"

// Type tags carried by events the application currently publishes. The hub
// itself is type-agnostic; these exist so producers and tests share one spelling.
const (
	TypeExecutionStarted   = "execution-started"
	TypeExecutionCompleted = "execution-completed"
	TypeExecutionFailed    = "execution-failed"
	TypeChatMessage        = "chat-message"
	TypeCreditsUpdated     = "credits-updated"
	TypeSyncCompleted      = "sync-completed"
	TypeMemoryCreated      = "memory-created"
	TypeStatsUpdated       = "stats-updated"
)

// Event is an immutable fact broadcast to stream subscribers.
// Timestamp is stamped by the hub at publish time, not by the producer.
type Event struct {
	Type           string         `json:"type"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	UserID         string         `json:"userId,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
}

// Matches reports whether an event addressed as ev should be delivered to a
// subscriber authenticated as userID within orgID.
//
// Precedence matters: a user-addressed event is delivered on user match alone
// and is never widened to other members of the same organization. An event
// carrying both userId and organizationId therefore reaches only that one
// user; organization-wide delivery requires userId to be unset.
func Matches(ev Event, userID, orgID string) bool {
	// No scoping fields: broadcast to everyone.
	if ev.UserID == "" && ev.OrganizationID == "" {
		return true
	}
	// User-addressed: user match wins regardless of organization fields.
	if ev.UserID != "" {
		return ev.UserID == userID
	}
	// Organization-wide: only when userId is unset.
	if ev.OrganizationID != "" {
		return orgID != "" && ev.OrganizationID == orgID
	}
	return false
}
