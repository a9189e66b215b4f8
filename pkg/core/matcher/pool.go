package matcher

import (
	"slices"
	"sort"

	"github.com/procurations/matching-engine/pkg/core/model"
)

// Pool is the working set of pending requests during a run.
// It only ever shrinks: once a request is assigned or refused by storage it is removed
// so later proxies never see it again.
type Pool struct {
	requests map[string]*model.VotingProxyRequest
	order    []string
}

// NewPool builds a pool ordered by creation time then id. Duplicate ids keep the first record.
func NewPool(requests []*model.VotingProxyRequest) *Pool {
	sorted := slices.Clone(requests)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	pool := &Pool{
		requests: make(map[string]*model.VotingProxyRequest, len(sorted)),
		order:    make([]string, 0, len(sorted)),
	}
	for _, req := range sorted {
		if _, exists := pool.requests[req.ID]; exists {
			continue
		}
		pool.requests[req.ID] = req
		pool.order = append(pool.order, req.ID)
	}
	return pool
}

func (p *Pool) Len() int {
	return len(p.order)
}

func (p *Pool) Contains(id string) bool {
	_, ok := p.requests[id]
	return ok
}

// ContainsAll reports whether every id is still pending
func (p *Pool) ContainsAll(ids []string) bool {
	for _, id := range ids {
		if !p.Contains(id) {
			return false
		}
	}
	return true
}

func (p *Pool) Get(id string) (*model.VotingProxyRequest, bool) {
	req, ok := p.requests[id]
	return req, ok
}

// Remove drops the given ids and returns how many were actually pending
func (p *Pool) Remove(ids ...string) int {
	removed := 0
	for _, id := range ids {
		if _, ok := p.requests[id]; ok {
			delete(p.requests, id)
			removed++
		}
	}
	if removed > 0 {
		p.order = slices.DeleteFunc(p.order, func(id string) bool {
			_, ok := p.requests[id]
			return !ok
		})
	}
	return removed
}

// RemoveRequesterDates drops the requester's requests on the given dates and returns their ids
func (p *Pool) RemoveRequesterDates(email string, dates []string) []string {
	email = model.NormalizeEmail(email)
	ids := make([]string, 0)
	for _, id := range p.order {
		req := p.requests[id]
		if model.NormalizeEmail(req.Email) == email && slices.Contains(dates, req.VotingDate) {
			ids = append(ids, id)
		}
	}
	p.Remove(ids...)
	return ids
}

// Requests returns the remaining requests in pool order
func (p *Pool) Requests() []*model.VotingProxyRequest {
	requests := make([]*model.VotingProxyRequest, len(p.order))
	for i, id := range p.order {
		requests[i] = p.requests[id]
	}
	return requests
}

// IDs returns the remaining request ids in pool order
func (p *Pool) IDs() []string {
	return slices.Clone(p.order)
}
