// Package proxy rotates entry fetches through a pool of forward proxies.
package proxy

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pithecene-io/zipline/types"
)

// stickySweepThreshold is the sticky map size at which a new assignment
// first sweeps expired entries.
const stickySweepThreshold = 1024

// Selector picks a pool endpoint for each outgoing request.
// Safe for concurrent use.
type Selector struct {
	pool types.ProxyPool
	now  func() time.Time

	mu        sync.Mutex
	rrIndex   int64
	stickyMap map[string]*stickyEntry // origin -> assignment
}

// stickyEntry is a sticky assignment with optional expiry.
type stickyEntry struct {
	endpointIdx int
	expiresAt   time.Time // zero means no expiry
}

// NewSelector validates pool and returns a selector over it.
func NewSelector(pool types.ProxyPool) (*Selector, error) {
	if pool.Strategy == "" {
		pool.Strategy = types.ProxyStrategyRoundRobin
	}
	if err := pool.Validate(); err != nil {
		return nil, fmt.Errorf("proxy pool validation failed: %w", err)
	}
	return &Selector{
		pool:      pool,
		now:       time.Now,
		stickyMap: make(map[string]*stickyEntry),
	}, nil
}

// Warnings returns the pool's non-fatal configuration issues.
func (s *Selector) Warnings() []string {
	return s.pool.Warnings()
}

// Select returns the endpoint for a request to origin.
// origin is only consulted by the sticky strategy.
func (s *Selector) Select(origin string) (*types.ProxyEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx int
	var err error
	switch s.pool.Strategy {
	case types.ProxyStrategyRoundRobin:
		idx = s.selectRoundRobin()
	case types.ProxyStrategyRandom:
		idx, err = s.selectRandom()
	case types.ProxyStrategySticky:
		idx, err = s.selectSticky(origin)
	default:
		err = fmt.Errorf("unknown strategy %q", s.pool.Strategy)
	}
	if err != nil {
		return nil, err
	}

	ep := s.pool.Endpoints[idx]
	return &ep, nil
}

// ProxyFunc adapts the selector to http.Transport.Proxy.
func (s *Selector) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		ep, err := s.Select(Origin(req.URL))
		if err != nil {
			return nil, err
		}
		return ep.URL(), nil
	}
}

// Origin returns scheme://host[:port] of u, the sticky key of a request.
func Origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func (s *Selector) selectRoundRobin() int {
	idx := int(s.rrIndex % int64(len(s.pool.Endpoints)))
	s.rrIndex++
	return idx
}

func (s *Selector) selectRandom() (int, error) {
	n := len(s.pool.Endpoints)
	if n == 1 {
		return 0, nil
	}
	bigIdx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random selection failed: %w", err)
	}
	return int(bigIdx.Int64()), nil
}

// selectSticky keeps an origin on its endpoint until the assignment expires.
// New assignments are random.
func (s *Selector) selectSticky(origin string) (int, error) {
	if origin == "" {
		return 0, errors.New("sticky selection requires an origin")
	}

	now := s.now()
	if entry, ok := s.stickyMap[origin]; ok {
		if entry.expiresAt.IsZero() || entry.expiresAt.After(now) {
			return entry.endpointIdx, nil
		}
		delete(s.stickyMap, origin)
	}

	idx, err := s.selectRandom()
	if err != nil {
		return 0, err
	}
	entry := &stickyEntry{endpointIdx: idx}
	if s.pool.StickyTTL > 0 {
		entry.expiresAt = now.Add(s.pool.StickyTTL)
		if len(s.stickyMap) >= stickySweepThreshold {
			s.sweepLocked(now)
		}
	}
	s.stickyMap[origin] = entry
	return idx, nil
}

// Stats is a point-in-time view of selector state.
type Stats struct {
	RoundRobinIndex int64
	StickyEntries   int
}

// Stats returns the selector's counters.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RoundRobinIndex: s.rrIndex,
		StickyEntries:   len(s.stickyMap),
	}
}

// CleanExpiredSticky removes expired sticky assignments.
func (s *Selector) CleanExpiredSticky() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
}

func (s *Selector) sweepLocked(now time.Time) {
	for key, entry := range s.stickyMap {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(s.stickyMap, key)
		}
	}
}
