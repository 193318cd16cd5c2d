// SPDX-License-Identifier: MIT

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesScopingTable(t *testing.T) {
	// Subscriber under test: user u1 in org o1.
	const (
		user = "u1"
		org  = "o1"
	)

	tests := []struct {
		name    string
		ev      Event
		deliver bool
	}{
		{"broadcast, no scoping fields", Event{}, true},
		{"user match", Event{UserID: "u1"}, true},
		{"user mismatch", Event{UserID: "u2"}, false},
		{"org match, no user", Event{OrganizationID: "o1"}, true},
		{"org mismatch, no user", Event{OrganizationID: "o2"}, false},
		{"user and org both match", Event{UserID: "u1", OrganizationID: "o1"}, true},
		{"user match, org mismatch", Event{UserID: "u1", OrganizationID: "o2"}, true},
		{"user mismatch, org match", Event{UserID: "u2", OrganizationID: "o1"}, false},
		{"user mismatch, org mismatch", Event{UserID: "u2", OrganizationID: "o2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.deliver, Matches(tt.ev, user, org))
		})
	}
}

func TestMatchesSubscriberWithoutOrganization(t *testing.T) {
	// A subscriber with no organization only sees broadcasts and its own
	// user-addressed events.
	assert.True(t, Matches(Event{}, "u1", ""))
	assert.True(t, Matches(Event{UserID: "u1"}, "u1", ""))
	assert.False(t, Matches(Event{OrganizationID: "o1"}, "u1", ""))
	assert.False(t, Matches(Event{UserID: "u2"}, "u1", ""))
}

func TestUserAddressedEventNeverWidensToOrganization(t *testing.T) {
	// An event carrying both userId and organizationId reaches only that
	// user, never other members of the same organization.
	ev := Event{UserID: "u1", OrganizationID: "o1"}
	assert.True(t, Matches(ev, "u1", "o1"))
	assert.False(t, Matches(ev, "u2", "o1"))
}
