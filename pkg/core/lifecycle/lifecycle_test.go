package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurations/matching-engine/pkg/core/model"
)

func newProxy(status model.ProxyStatus, dates ...string) *model.VotingProxy {
	return &model.VotingProxy{
		ID:          "proxy-1",
		Email:       "proxy@example.com",
		Location:    model.Location{CommuneCode: "75056"},
		VotingDates: dates,
		Status:      status,
	}
}

func newRequest(id, email, date string) *model.VotingProxyRequest {
	return &model.VotingProxyRequest{
		ID:         id,
		Email:      email,
		Location:   model.Location{CommuneCode: "75056"},
		VotingDate: date,
		Status:     model.RequestStatusCreated,
	}
}

func TestApplyAssignment_AcceptsRequestsAndStampsProxy(t *testing.T) {
	proxy := newProxy(model.ProxyStatusCreated, "2027-04-10", "2027-04-24")
	requests := []*model.VotingProxyRequest{
		newRequest("req-1", "alice@example.com", "2027-04-10"),
		newRequest("req-2", "alice@example.com", "2027-04-24"),
	}
	at := time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC)

	err := ApplyAssignment(proxy, requests, at)
	require.NoError(t, err)

	for _, req := range requests {
		assert.Equal(t, model.RequestStatusAccepted, req.Status)
		assert.Equal(t, "proxy-1", req.ProxyID)
	}
	assert.Equal(t, model.ProxyStatusAvailable, proxy.Status)
	assert.ElementsMatch(t, []string{"2027-04-10", "2027-04-24"}, proxy.FulfilledDates)
	assert.Empty(t, proxy.OpenDates())
	require.NotNil(t, proxy.LastMatchedAt)
	assert.Equal(t, at, *proxy.LastMatchedAt)
}

func TestApplyAssignment_RejectsSecondRequestOnSameDate(t *testing.T) {
	proxy := newProxy(model.ProxyStatusAvailable, "2027-04-10")
	requests := []*model.VotingProxyRequest{
		newRequest("req-1", "alice@example.com", "2027-04-10"),
		newRequest("req-2", "bob@example.com", "2027-04-10"),
	}

	err := ApplyAssignment(proxy, requests, time.Now())
	assert.ErrorIs(t, err, ErrDateNotOpen)

	// Nothing is mutated on failure
	assert.Equal(t, model.RequestStatusCreated, requests[0].Status)
	assert.Empty(t, proxy.FulfilledDates)
	assert.Nil(t, proxy.LastMatchedAt)
}

func TestCheckAssignable(t *testing.T) {
	tests := []struct {
		name    string
		proxy   *model.VotingProxy
		request *model.VotingProxyRequest
		wantErr error
	}{
		{
			name:    "self match",
			proxy:   newProxy(model.ProxyStatusAvailable, "2027-04-10"),
			request: newRequest("req-1", " PROXY@example.com", "2027-04-10"),
			wantErr: ErrSelfMatch,
		},
		{
			name:    "date not offered",
			proxy:   newProxy(model.ProxyStatusAvailable, "2027-04-24"),
			request: newRequest("req-1", "alice@example.com", "2027-04-10"),
			wantErr: ErrDateNotOpen,
		},
		{
			name: "date already fulfilled",
			proxy: &model.VotingProxy{
				ID: "proxy-1", Email: "proxy@example.com",
				VotingDates: []string{"2027-04-10"}, FulfilledDates: []string{"2027-04-10"},
			},
			request: newRequest("req-1", "alice@example.com", "2027-04-10"),
			wantErr: ErrDateNotOpen,
		},
		{
			name:  "request already accepted",
			proxy: newProxy(model.ProxyStatusAvailable, "2027-04-10"),
			request: &model.VotingProxyRequest{
				ID: "req-1", Email: "alice@example.com", VotingDate: "2027-04-10",
				Status: model.RequestStatusAccepted, ProxyID: "proxy-2",
			},
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "valid",
			proxy:   newProxy(model.ProxyStatusInvited, "2027-04-10"),
			request: newRequest("req-1", "alice@example.com", "2027-04-10"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAssignable(tt.proxy, []*model.VotingProxyRequest{tt.request})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProxyStatusAfterAssignment(t *testing.T) {
	assert.Equal(t, model.ProxyStatusAvailable, ProxyStatusAfterAssignment(model.ProxyStatusCreated))
	assert.Equal(t, model.ProxyStatusAvailable, ProxyStatusAfterAssignment(model.ProxyStatusInvited))
	assert.Equal(t, model.ProxyStatusAvailable, ProxyStatusAfterAssignment(model.ProxyStatusAvailable))
	assert.Equal(t, model.ProxyStatusUnavailable, ProxyStatusAfterAssignment(model.ProxyStatusUnavailable))
}

func TestConfirm(t *testing.T) {
	req := newRequest("req-1", "alice@example.com", "2027-04-10")
	assert.ErrorIs(t, Confirm(req), ErrInvalidTransition, "Pending request cannot be confirmed")

	req.Status = model.RequestStatusAccepted
	req.ProxyID = "proxy-1"
	require.NoError(t, Confirm(req))
	assert.Equal(t, model.RequestStatusConfirmed, req.Status)
	assert.Equal(t, "proxy-1", req.ProxyID)

	assert.ErrorIs(t, Confirm(req), ErrInvalidTransition, "Confirmed is terminal")
}

func TestDecline(t *testing.T) {
	req := newRequest("req-1", "alice@example.com", "2027-04-10")
	req.Status = model.RequestStatusAccepted
	req.ProxyID = "proxy-1"

	assert.ErrorIs(t, Decline(req, "proxy-2"), ErrWrongProxy)

	require.NoError(t, Decline(req, "proxy-1"))
	assert.Equal(t, model.RequestStatusCreated, req.Status)
	assert.Empty(t, req.ProxyID)

	assert.ErrorIs(t, Decline(req, "proxy-1"), ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	t.Run("accepted request returns attached proxy", func(t *testing.T) {
		req := newRequest("req-1", "alice@example.com", "2027-04-10")
		req.Status = model.RequestStatusAccepted
		req.ProxyID = "proxy-1"

		detached, err := Cancel(req)
		require.NoError(t, err)
		assert.Equal(t, "proxy-1", detached)
		assert.Equal(t, model.RequestStatusCancelled, req.Status)
		assert.Empty(t, req.ProxyID)
	})

	t.Run("pending request has no proxy to inform", func(t *testing.T) {
		req := newRequest("req-1", "alice@example.com", "2027-04-10")

		detached, err := Cancel(req)
		require.NoError(t, err)
		assert.Empty(t, detached)
	})

	t.Run("terminal requests cannot be cancelled", func(t *testing.T) {
		req := newRequest("req-1", "alice@example.com", "2027-04-10")
		req.Status = model.RequestStatusConfirmed

		_, err := Cancel(req)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestReleaseDate(t *testing.T) {
	proxy := &model.VotingProxy{
		ID:             "proxy-1",
		VotingDates:    []string{"2027-04-10", "2027-04-24"},
		FulfilledDates: []string{"2027-04-10", "2027-04-24"},
		Status:         model.ProxyStatusUnavailable,
	}

	ReleaseDate(proxy, "2027-04-10")

	assert.Equal(t, []string{"2027-04-24"}, proxy.FulfilledDates)
	assert.Equal(t, []string{"2027-04-10"}, proxy.OpenDates())
	assert.Equal(t, model.ProxyStatusAvailable, proxy.Status)
}

func TestSetAvailability(t *testing.T) {
	proxy := newProxy(model.ProxyStatusAvailable, "2027-04-10")

	require.NoError(t, SetAvailability(proxy, false))
	assert.Equal(t, model.ProxyStatusUnavailable, proxy.Status)

	require.NoError(t, SetAvailability(proxy, true))
	assert.Equal(t, model.ProxyStatusAvailable, proxy.Status)

	created := newProxy(model.ProxyStatusCreated, "2027-04-10")
	assert.ErrorIs(t, SetAvailability(created, true), ErrInvalidTransition)
	assert.Equal(t, model.ProxyStatusCreated, created.Status)
}
