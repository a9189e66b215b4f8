package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/procurations/matching-engine/pkg/core/model"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDateNotOpen       = errors.New("proxy is not open on this date")
	ErrSelfMatch         = errors.New("requester cannot be their own proxy")
	ErrWrongProxy        = errors.New("request is not attached to this proxy")
)

// CheckAssignable verifies that the requests can all be attached to the proxy in one step.
// A proxy may hold at most one request per voting date.
func CheckAssignable(proxy *model.VotingProxy, requests []*model.VotingProxyRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("%w: no requests to assign", ErrInvalidTransition)
	}

	proxyEmail := model.NormalizeEmail(proxy.Email)
	dates := make(map[string]bool, len(requests))

	for _, req := range requests {
		if req.Status != model.RequestStatusCreated || req.ProxyID != "" {
			return fmt.Errorf("%w: request %s is %s", ErrInvalidTransition, req.ID, req.Status)
		}
		if model.NormalizeEmail(req.Email) == proxyEmail {
			return fmt.Errorf("%w: request %s", ErrSelfMatch, req.ID)
		}
		if !proxy.IsOpenOn(req.VotingDate) || dates[req.VotingDate] {
			return fmt.Errorf("%w: proxy %s on %s", ErrDateNotOpen, proxy.ID, req.VotingDate)
		}
		dates[req.VotingDate] = true
	}

	return nil
}

// ApplyAssignment attaches the requests to the proxy: requests become accepted,
// their dates are fulfilled and the proxy is stamped as matched at the given time.
func ApplyAssignment(proxy *model.VotingProxy, requests []*model.VotingProxyRequest, at time.Time) error {
	if err := CheckAssignable(proxy, requests); err != nil {
		return err
	}

	for _, req := range requests {
		req.Status = model.RequestStatusAccepted
		req.ProxyID = proxy.ID
		proxy.FulfilledDates = append(proxy.FulfilledDates, req.VotingDate)
	}

	proxy.Status = ProxyStatusAfterAssignment(proxy.Status)
	matchedAt := at
	proxy.LastMatchedAt = &matchedAt

	return nil
}

// ProxyStatusAfterAssignment returns the status of a proxy once it holds an accepted request
func ProxyStatusAfterAssignment(status model.ProxyStatus) model.ProxyStatus {
	switch status {
	case model.ProxyStatusCreated, model.ProxyStatusInvited:
		return model.ProxyStatusAvailable
	}
	return status
}

// Confirm records the requester's confirmation of an accepted request
func Confirm(req *model.VotingProxyRequest) error {
	if req.Status != model.RequestStatusAccepted {
		return fmt.Errorf("%w: cannot confirm request %s in status %s", ErrInvalidTransition, req.ID, req.Status)
	}
	req.Status = model.RequestStatusConfirmed
	return nil
}

// Decline returns an accepted request to the pending pool on the proxy's reply
func Decline(req *model.VotingProxyRequest, proxyID string) error {
	if req.Status != model.RequestStatusAccepted {
		return fmt.Errorf("%w: cannot decline request %s in status %s", ErrInvalidTransition, req.ID, req.Status)
	}
	if req.ProxyID != proxyID {
		return fmt.Errorf("%w: request %s, proxy %s", ErrWrongProxy, req.ID, proxyID)
	}
	req.Status = model.RequestStatusCreated
	req.ProxyID = ""
	return nil
}

// Cancel cancels a request on the requester's demand.
// It returns the id of the proxy that was attached, if any, so it can be informed.
func Cancel(req *model.VotingProxyRequest) (string, error) {
	if req.Status.IsTerminal() {
		return "", fmt.Errorf("%w: cannot cancel request %s in status %s", ErrInvalidTransition, req.ID, req.Status)
	}
	detached := req.ProxyID
	req.Status = model.RequestStatusCancelled
	req.ProxyID = ""
	return detached, nil
}

// ReleaseDate frees a date held by the proxy. A proxy freed this way is available again.
func ReleaseDate(proxy *model.VotingProxy, date string) {
	if idx := slices.Index(proxy.FulfilledDates, date); idx >= 0 {
		proxy.FulfilledDates = slices.Delete(proxy.FulfilledDates, idx, idx+1)
	}
	if proxy.Status == model.ProxyStatusUnavailable {
		proxy.Status = model.ProxyStatusAvailable
	}
}

// SetAvailability toggles a proxy between available and unavailable on its explicit reply.
// Proxies that never held a request cannot be toggled.
func SetAvailability(proxy *model.VotingProxy, available bool) error {
	if proxy.Status != model.ProxyStatusAvailable && proxy.Status != model.ProxyStatusUnavailable {
		return fmt.Errorf("%w: proxy %s is %s", ErrInvalidTransition, proxy.ID, proxy.Status)
	}
	if available {
		proxy.Status = model.ProxyStatusAvailable
	} else {
		proxy.Status = model.ProxyStatusUnavailable
	}
	return nil
}
