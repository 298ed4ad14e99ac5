package ports

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

// Pool is an ordered set of reserved ports. Each port is handed out exactly once, first in first out.
type Pool struct {
	mu   sync.Mutex
	all  []int
	next int
}

// NewPool wraps ports that have already been reserved, e.g. by a custom reserver.
func NewPool(reserved []int) *Pool {
	all := make([]int, len(reserved))
	copy(all, reserved)
	return &Pool{all: all}
}

// Next consumes the next port of the pool.
func (p *Pool) Next() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= len(p.all) {
		return 0, errors.WithStack(&clustererrors.ErrResourceExhausted{
			Resource:  "port",
			Requested: p.next + 1,
			Available: len(p.all),
			Message:   "port pool is empty",
		})
	}
	port := p.all[p.next]
	p.next++
	return port, nil
}

// Take consumes the next n ports of the pool, in order.
func (p *Pool) Take(n int) ([]int, error) {
	taken := make([]int, 0, n)
	for i := 0; i < n; i++ {
		port, err := p.Next()
		if err != nil {
			return nil, err
		}
		taken = append(taken, port)
	}
	return taken, nil
}

// Remaining returns how many ports have not been consumed yet.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all) - p.next
}

// All returns every port of the pool in reservation order, consumed or not.
func (p *Pool) All() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	all := make([]int, len(p.all))
	copy(all, p.all)
	return all
}
