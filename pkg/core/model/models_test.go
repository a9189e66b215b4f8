package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocation_Valid(t *testing.T) {
	tests := []struct {
		name     string
		location Location
		expected bool
	}{
		{"commune only", Location{CommuneCode: "75056"}, true},
		{"consulate only", Location{ConsulateID: "london"}, true},
		{"both set", Location{CommuneCode: "75056", ConsulateID: "london"}, false},
		{"neither set", Location{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.location.Valid())
		})
	}
}

func TestVotingProxy_OpenDates(t *testing.T) {
	proxy := &VotingProxy{
		VotingDates:    []string{"2027-04-10", "2027-04-24", "2027-04-10"},
		FulfilledDates: []string{"2027-04-24"},
	}

	assert.Equal(t, []string{"2027-04-10"}, proxy.OpenDates())
	assert.True(t, proxy.IsOpenOn("2027-04-10"))
	assert.False(t, proxy.IsOpenOn("2027-04-24"), "Fulfilled date should not be open")
	assert.False(t, proxy.IsOpenOn("2027-05-01"), "Date not offered should not be open")
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	assert.False(t, RequestStatusCreated.IsTerminal())
	assert.False(t, RequestStatusAccepted.IsTerminal())
	assert.True(t, RequestStatusConfirmed.IsTerminal())
	assert.True(t, RequestStatusCancelled.IsTerminal())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}
